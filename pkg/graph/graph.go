// Package graph builds the dataflow graph: typed operation nodes wired
// together by their outputs, indexed by name.
//
// A Graph owns every Operation it creates, along with the tensors attached to
// Const operations. Operations are never removed individually; they all go
// away together when the Graph is closed.
package graph

import (
	"errors"
	"fmt"

	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
)

// Graph holds the operations and their name index.
type Graph struct {
	ops      []*Operation
	registry *Registry
	closed   bool
}

func New() *Graph {
	return &Graph{registry: NewRegistry()}
}

// Registry is the name index of the graph.
func (g *Graph) Registry() *Registry { return g.registry }

// Operations returns the operations in creation order.
func (g *Graph) Operations() []*Operation {
	return append([]*Operation(nil), g.ops...)
}

// Operation resolves an operation by name.
func (g *Graph) Operation(name string) (*Operation, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	return g.registry.Resolve(name)
}

// Closed reports whether Close has been called.
func (g *Graph) Closed() bool { return g.closed }

// Placeholder adds an input node of the given dtype. It has no inputs and must
// be fed at run time.
func (g *Graph) Placeholder(name string, dtype tensor.DType) (*Operation, error) {
	if err := g.checkNewNode(name); err != nil {
		return nil, err
	}
	if !dtype.Valid() {
		return nil, status.Errorf(status.InvalidArgument, "placeholder %q: unsupported dtype %v", name, dtype)
	}
	return g.add(&Operation{name: name, opType: OpPlaceholder, dtype: dtype}), nil
}

// Const adds a node whose output is value. The graph takes ownership of
// value whether or not the call succeeds.
func (g *Graph) Const(name string, value *tensor.Tensor) (*Operation, error) {
	if value == nil {
		return nil, status.Errorf(status.InvalidArgument, "constant %q: nil value", name)
	}
	if err := g.checkNewNode(name); err != nil {
		value.Release()
		return nil, err
	}
	if value.Released() {
		return nil, status.Errorf(status.InvalidArgument, "constant %q: value has been released", name)
	}
	return g.add(&Operation{name: name, opType: OpConst, dtype: value.DType(), value: value}), nil
}

// Add adds the element-wise sum of left and right.
func (g *Graph) Add(name string, left, right *Operation) (*Operation, error) {
	return g.binary(OpAdd, name, left, right)
}

// MatMul adds the matrix product of left and right.
func (g *Graph) MatMul(name string, left, right *Operation) (*Operation, error) {
	return g.binary(OpMatMul, name, left, right)
}

// Shapes and dtypes are not checked here; mismatches are reported by the
// runtime when the graph runs.
func (g *Graph) binary(opType OpType, name string, left, right *Operation) (*Operation, error) {
	if err := g.checkNewNode(name); err != nil {
		return nil, err
	}
	for _, in := range []*Operation{left, right} {
		if in == nil {
			return nil, status.Errorf(status.InvalidArgument, "%s %q: nil input", opType, name)
		}
		if in.graph != g {
			return nil, status.Errorf(status.InvalidArgument, "%s %q: input %q belongs to another graph", opType, name, in.name)
		}
	}
	op := &Operation{
		name:   name,
		opType: opType,
		inputs: []Output{left.Output(), right.Output()},
	}
	return g.add(op), nil
}

func (g *Graph) checkOpen() error {
	if g.closed {
		return status.Errorf(status.Lifecycle, "graph has been closed")
	}
	return nil
}

// checkNewNode runs every check that can reject a node before the graph is
// touched, so a failed build leaves no trace.
func (g *Graph) checkNewNode(name string) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	if name == "" {
		return status.Errorf(status.InvalidArgument, "operation name must not be empty")
	}
	if g.registry.Has(name) {
		return status.Errorf(status.NameCollision, "operation %q already exists", name)
	}
	return nil
}

func (g *Graph) add(op *Operation) *Operation {
	op.graph = g
	op.id = len(g.ops)
	if err := g.registry.Register(op.name, op); err != nil {
		// checkNewNode guarantees the name is free.
		panic(fmt.Sprintf("registering %q: %v", op.name, err))
	}
	g.ops = append(g.ops, op)
	return op
}

// Close releases the Const tensors and drops every operation. It is safe to
// call more than once; later calls return a Lifecycle error.
func (g *Graph) Close() error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	g.closed = true

	var errs []error
	for _, op := range g.ops {
		if op.value != nil {
			if err := op.value.Release(); err != nil {
				errs = append(errs, fmt.Errorf("releasing constant %q: %w", op.name, err))
			}
		}
	}
	g.ops = nil
	g.registry.clear()
	return errors.Join(errs...)
}
