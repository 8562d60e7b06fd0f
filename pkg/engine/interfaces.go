package engine

import (
	"context"
	"io"

	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/tensor"
)

// Runtime executes a graph. Run blocks until the requested outputs are
// computed, then stores a newly allocated tensor in every slot of
// args.OutputValues. The caller owns those tensors. Input values are only
// read; they stay owned by the caller.
type Runtime interface {
	io.Closer

	Run(ctx context.Context, args *RunArgs) error
}

// Feed binds a tensor to an operation output for one run.
type Feed struct {
	Output graph.Output
	Value  *tensor.Tensor
}
