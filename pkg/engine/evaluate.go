package engine

import (
	"context"
	"errors"
	"time"

	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
	"k8s.io/klog/v2"
)

// Evaluate marshals the feed, fetch and target sets and makes exactly one
// Run call. On success the returned tensors, one per fetch, belong to the
// caller. On failure nothing is returned and anything the runtime stored
// has already been released.
func Evaluate(ctx context.Context, runtime Runtime, feeds []Feed, fetches []graph.Output, targets []*graph.Operation) ([]*tensor.Tensor, error) {
	log := klog.FromContext(ctx)

	args := Marshal(feeds, fetches, targets)

	startedAt := time.Now()
	if err := runtime.Run(ctx, args); err != nil {
		if releaseErr := args.ReleaseOutputs(); releaseErr != nil {
			log.Error(releaseErr, "releasing outputs of failed run")
		}
		if status.KindOf(err) == status.Unknown {
			err = status.Errorf(status.Execution, "running graph: %w", err)
		}
		return nil, err
	}

	for i, t := range args.OutputValues {
		if t == nil {
			err := status.Errorf(status.Execution, "runtime returned no value for output %s", args.Outputs[i])
			return nil, errors.Join(err, args.ReleaseOutputs())
		}
	}

	log.V(2).Info("evaluated graph", "feeds", len(args.Inputs), "fetches", len(args.Outputs), "targets", len(args.Targets), "duration", time.Since(startedAt))

	return args.OutputValues, nil
}
