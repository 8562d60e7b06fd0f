package engine

import (
	"slices"

	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/status"
)

// BuildDAG returns the operations needed to compute the outputs and targets
// of args, inputs before the operations that consume them. Operations whose
// output is fed are not expanded: their own inputs are not needed.
func BuildDAG(args *RunArgs) ([]*graph.Operation, error) {
	fed := make(map[*graph.Operation]bool, len(args.Inputs))
	for _, in := range args.Inputs {
		fed[in.Op] = true
	}

	// Walk backwards from the wanted operations to find what is needed.
	needed := make(map[*graph.Operation]bool)
	var stack []*graph.Operation
	for _, out := range args.Outputs {
		stack = append(stack, out.Op)
	}
	stack = append(stack, args.Targets...)
	for len(stack) > 0 {
		op := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if needed[op] {
			continue
		}
		needed[op] = true
		if fed[op] {
			continue
		}
		for _, in := range op.Inputs() {
			stack = append(stack, in.Op)
		}
	}

	// Stable order: repeatedly take every needed operation whose inputs are done,
	// scanning in creation order.
	candidates := make([]*graph.Operation, 0, len(needed))
	for op := range needed {
		candidates = append(candidates, op)
	}
	slices.SortFunc(candidates, func(a, b *graph.Operation) int { return a.ID() - b.ID() })

	evaluationOrder := make([]*graph.Operation, 0, len(candidates))
	done := make(map[*graph.Operation]bool, len(candidates))
	for {
		progress := false
		for _, op := range candidates {
			if done[op] {
				continue
			}

			ready := true
			if !fed[op] {
				for _, dep := range op.Inputs() {
					if !done[dep.Op] {
						ready = false
						break
					}
				}
			}
			if ready {
				done[op] = true
				evaluationOrder = append(evaluationOrder, op)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	for _, op := range candidates {
		if !done[op] {
			return nil, status.Errorf(status.Execution, "operation %q could not be computed (cycle in computation graph)", op.Name())
		}
	}

	return evaluationOrder, nil
}
