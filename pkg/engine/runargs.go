package engine

import (
	"fmt"

	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
)

// RunArgs is the argument block of one Runtime.Run call: four parallel
// arrays whose lengths match the logical feed, fetch and target sets.
//
// An empty set is always a nil slice. Runtimes treat a non-nil slice of
// length zero as malformed, so Marshal never produces one.
type RunArgs struct {
	Inputs      []graph.Output
	InputValues []*tensor.Tensor

	Outputs      []graph.Output
	OutputValues []*tensor.Tensor

	Targets []*graph.Operation
}

// Marshal lays out feeds, fetches and targets as RunArgs. OutputValues has
// one nil slot per fetch.
func Marshal(feeds []Feed, fetches []graph.Output, targets []*graph.Operation) *RunArgs {
	args := &RunArgs{}
	if len(feeds) > 0 {
		args.Inputs = make([]graph.Output, len(feeds))
		args.InputValues = make([]*tensor.Tensor, len(feeds))
		for i, feed := range feeds {
			args.Inputs[i] = feed.Output
			args.InputValues[i] = feed.Value
		}
	}
	if len(fetches) > 0 {
		args.Outputs = append([]graph.Output(nil), fetches...)
		args.OutputValues = make([]*tensor.Tensor, len(fetches))
	}
	if len(targets) > 0 {
		args.Targets = append([]*graph.Operation(nil), targets...)
	}
	return args
}

// Validate checks the shape of the argument block itself, not the graph.
func (a *RunArgs) Validate() error {
	if err := checkArray("inputs", a.Inputs != nil, len(a.Inputs)); err != nil {
		return err
	}
	if err := checkArray("input values", a.InputValues != nil, len(a.InputValues)); err != nil {
		return err
	}
	if err := checkArray("outputs", a.Outputs != nil, len(a.Outputs)); err != nil {
		return err
	}
	if err := checkArray("output values", a.OutputValues != nil, len(a.OutputValues)); err != nil {
		return err
	}
	if err := checkArray("targets", a.Targets != nil, len(a.Targets)); err != nil {
		return err
	}
	if len(a.Inputs) != len(a.InputValues) {
		return status.Errorf(status.Execution, "%d inputs but %d input values", len(a.Inputs), len(a.InputValues))
	}
	if len(a.Outputs) != len(a.OutputValues) {
		return status.Errorf(status.Execution, "%d outputs but %d output slots", len(a.Outputs), len(a.OutputValues))
	}
	for i, in := range a.Inputs {
		if in.Op == nil {
			return status.Errorf(status.Execution, "input %d has no operation", i)
		}
		if a.InputValues[i] == nil || a.InputValues[i].Released() {
			return status.Errorf(status.Execution, "input %s has no value", in)
		}
	}
	for i, out := range a.Outputs {
		if out.Op == nil {
			return status.Errorf(status.Execution, "output %d has no operation", i)
		}
		if a.OutputValues[i] != nil {
			return status.Errorf(status.Execution, "output slot %d for %s is not empty", i, out)
		}
	}
	for i, target := range a.Targets {
		if target == nil {
			return status.Errorf(status.Execution, "target %d is nil", i)
		}
	}
	return nil
}

func checkArray(what string, nonNil bool, n int) error {
	if nonNil && n == 0 {
		return status.Errorf(status.Execution, "%s: non-nil array with zero entries", what)
	}
	return nil
}

// ReleaseOutputs releases whatever the runtime stored in OutputValues and
// clears the slots.
func (a *RunArgs) ReleaseOutputs() error {
	var first error
	for i, t := range a.OutputValues {
		if t == nil {
			continue
		}
		if err := t.Release(); err != nil && first == nil {
			first = fmt.Errorf("releasing output %d: %w", i, err)
		}
		a.OutputValues[i] = nil
	}
	return first
}
