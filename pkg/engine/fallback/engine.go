package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/justinsb/kgraph/pkg/engine"
	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
	"k8s.io/klog/v2"
)

// Runtime evaluates graphs on the CPU in plain Go.
type Runtime struct {
	alloc  *tensor.Allocator
	closed bool
}

var _ engine.Runtime = (*Runtime)(nil)

// NewRuntime returns a runtime that allocates its tensors from alloc
// (tensor.DefaultAllocator when nil).
func NewRuntime(alloc *tensor.Allocator) (*Runtime, error) {
	if alloc == nil {
		alloc = tensor.DefaultAllocator
	}
	return &Runtime{alloc: alloc}, nil
}

func (r *Runtime) Close() error {
	if r.closed {
		return fmt.Errorf("runtime already closed")
	}
	r.closed = true
	return nil
}

func (r *Runtime) Run(ctx context.Context, args *engine.RunArgs) (err error) {
	if r.closed {
		return status.Errorf(status.Lifecycle, "runtime has been closed")
	}
	if err := args.Validate(); err != nil {
		return err
	}

	evaluationOrder, err := engine.BuildDAG(args)
	if err != nil {
		return err
	}

	values := make(map[*graph.Operation]*value, len(evaluationOrder))
	defer func() {
		for _, v := range values {
			if releaseErr := v.release(); releaseErr != nil {
				err = errors.Join(err, releaseErr)
			}
		}
	}()

	for i, in := range args.Inputs {
		values[in.Op] = borrowed(args.InputValues[i])
	}

	log := klog.FromContext(ctx)
	for _, op := range evaluationOrder {
		if err := ctx.Err(); err != nil {
			return status.Errorf(status.Execution, "run interrupted before %q: %w", op.Name(), err)
		}
		if _, fed := values[op]; fed {
			if err := checkFeed(op, values[op].t); err != nil {
				return err
			}
			continue
		}
		v, err := r.evaluateOperation(op, values)
		if err != nil {
			return err
		}
		values[op] = v
		log.V(4).Info("evaluated operation", "op", op.Name(), "type", op.Type(), "dtype", v.t.DType(), "shape", v.t.Shape())
	}

	// The fetch slots get their own copies, so they never alias a feed, a
	// constant, or another slot.
	for i, out := range args.Outputs {
		v, ok := values[out.Op]
		if !ok {
			return status.Errorf(status.Execution, "output %s was not computed", out)
		}
		result, err := v.t.Clone()
		if err != nil {
			return status.Errorf(status.Execution, "copying output %s: %w", out, err)
		}
		args.OutputValues[i] = result
	}
	return nil
}

func checkFeed(op *graph.Operation, t *tensor.Tensor) error {
	if op.Type() == graph.OpPlaceholder && t.DType() != op.DType() {
		return status.Errorf(status.Execution, "placeholder %q has dtype %s but was fed %s", op.Name(), op.DType(), t.DType())
	}
	return nil
}

func (r *Runtime) evaluateOperation(op *graph.Operation, values map[*graph.Operation]*value) (*value, error) {
	switch op.Type() {
	case graph.OpPlaceholder:
		return nil, status.Errorf(status.Execution, "placeholder %q must be fed", op.Name())

	case graph.OpConst:
		if op.Value() == nil {
			return nil, status.Errorf(status.Execution, "constant %q has no value", op.Name())
		}
		return borrowed(op.Value()), nil

	case graph.OpAdd, graph.OpMatMul:
		sources, err := sourceTensors(op, values)
		if err != nil {
			return nil, err
		}
		var result *tensor.Tensor
		if op.Type() == graph.OpAdd {
			result, err = add(r.alloc, sources[0], sources[1])
		} else {
			result, err = matMul(r.alloc, sources[0], sources[1])
		}
		if err != nil {
			return nil, status.Errorf(status.Execution, "%s %q: %w", op.Type(), op.Name(), err)
		}
		return owned(result), nil

	default:
		return nil, status.Errorf(status.Execution, "unsupported operation: %s", op)
	}
}

func sourceTensors(op *graph.Operation, values map[*graph.Operation]*value) ([]*tensor.Tensor, error) {
	inputs := op.Inputs()
	out := make([]*tensor.Tensor, len(inputs))
	for i, in := range inputs {
		v, found := values[in.Op]
		if !found {
			return nil, status.Errorf(status.Execution, "source %s of %q not computed", in, op.Name())
		}
		out[i] = v.t
	}
	if len(out) != 2 {
		return nil, status.Errorf(status.Execution, "expected 2 source tensors for %q, got %d", op.Name(), len(out))
	}
	return out, nil
}
