package graph

import (
	"errors"
	"strings"

	"github.com/justinsb/kgraph/pkg/graphdef"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
)

type pendingNode struct {
	def    *graphdef.NodeDef
	opType OpType
	dtype  tensor.DType
	inputs []string
	value  *tensor.Tensor
}

// Import merges the nodes of def into the graph.
//
// Imported names share the namespace of the existing operations. If any
// imported name is already taken, or appears twice in def, the whole import
// is rejected and the graph is left untouched. Inputs may refer to existing
// operations or to other nodes of def, in any order. A Const without values
// is filled with ones.
func (g *Graph) Import(def *graphdef.GraphDef, alloc *tensor.Allocator) ([]*Operation, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	if alloc == nil {
		alloc = tensor.DefaultAllocator
	}

	pending := make(map[string]*pendingNode, len(def.Nodes))
	var order []*pendingNode
	for i, n := range def.Nodes {
		if n.Name == "" {
			return nil, status.Errorf(status.Import, "node %d has no name", i)
		}
		if g.registry.Has(n.Name) {
			return nil, status.Errorf(status.NameCollision, "importing %q: operation already exists", n.Name)
		}
		if _, dup := pending[n.Name]; dup {
			return nil, status.Errorf(status.Import, "node %q is defined more than once", n.Name)
		}
		p, err := parseNodeDef(n)
		if err != nil {
			return nil, err
		}
		pending[n.Name] = p
		order = append(order, p)
	}

	for _, p := range order {
		for _, in := range p.inputs {
			if _, ok := pending[in]; !ok && !g.registry.Has(in) {
				return nil, status.Errorf(status.Import, "node %q: input %q not found", p.def.Name, in)
			}
		}
	}

	sorted, err := sortPending(order, pending)
	if err != nil {
		return nil, err
	}

	// Build every constant before touching the graph.
	releaseValues := func() {
		for _, p := range sorted {
			p.value.Release()
		}
	}
	for _, p := range sorted {
		if p.opType != OpConst {
			continue
		}
		var value *tensor.Tensor
		var err error
		if p.def.HasValues {
			value, err = alloc.New(p.def.Values, p.def.Shape, p.dtype)
		} else {
			value, err = filledConst(p.def.Shape, p.dtype, alloc)
		}
		if err != nil {
			releaseValues()
			return nil, status.Errorf(status.Import, "constant %q: %w", p.def.Name, err)
		}
		p.value = value
	}

	created := make([]*Operation, 0, len(sorted))
	for _, p := range sorted {
		op := &Operation{name: p.def.Name, opType: p.opType, dtype: p.dtype, value: p.value}
		for _, in := range p.inputs {
			src, _ := g.registry.Resolve(in)
			op.inputs = append(op.inputs, src.Output())
		}
		created = append(created, g.add(op))
	}
	return created, nil
}

// maxFilledElements bounds a Const without values, whose size comes from the
// shape alone.
const maxFilledElements = 1 << 24

func filledConst(shape []int64, dtype tensor.DType, alloc *tensor.Allocator) (*tensor.Tensor, error) {
	n, err := tensor.NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n > maxFilledElements {
		return nil, status.Errorf(status.ShapeMismatch, "shape %v has %d elements, a constant without values may have at most %d", shape, n, maxFilledElements)
	}
	return alloc.Filled(shape, 1, dtype)
}

func parseNodeDef(n *graphdef.NodeDef) (*pendingNode, error) {
	opType, err := ParseOpType(n.Op)
	if err != nil {
		return nil, status.Errorf(status.Import, "node %q: %w", n.Name, err)
	}
	p := &pendingNode{def: n, opType: opType}

	switch opType {
	case OpPlaceholder:
		p.dtype, err = tensor.ParseDType(n.DType)
		if err != nil {
			return nil, status.Errorf(status.Import, "node %q: %w", n.Name, err)
		}
	case OpConst:
		p.dtype = tensor.Int32
		if n.DType != "" {
			p.dtype, err = tensor.ParseDType(n.DType)
			if err != nil {
				return nil, status.Errorf(status.Import, "node %q: %w", n.Name, err)
			}
		}
	}

	if len(n.Inputs) != opType.NumInputs() {
		return nil, status.Errorf(status.Import, "node %q: %s takes %d inputs, got %d", n.Name, opType, opType.NumInputs(), len(n.Inputs))
	}
	for _, in := range n.Inputs {
		if strings.HasPrefix(in, "^") {
			return nil, status.Errorf(status.Import, "node %q: control input %q is not supported", n.Name, in)
		}
		name, index, found := strings.Cut(in, ":")
		if found && index != "0" {
			return nil, status.Errorf(status.Import, "node %q: input %q refers to output %s, only output 0 exists", n.Name, in, index)
		}
		p.inputs = append(p.inputs, name)
	}
	return p, nil
}

// sortPending orders the pending nodes so inputs come first. Inputs that
// already exist in the graph impose no ordering.
func sortPending(order []*pendingNode, pending map[string]*pendingNode) ([]*pendingNode, error) {
	done := make(map[string]bool, len(order))
	sorted := make([]*pendingNode, 0, len(order))
	for len(sorted) < len(order) {
		progress := false
		for _, p := range order {
			if done[p.def.Name] {
				continue
			}
			ready := true
			for _, in := range p.inputs {
				if _, isPending := pending[in]; isPending && !done[in] {
					ready = false
					break
				}
			}
			if ready {
				done[p.def.Name] = true
				sorted = append(sorted, p)
				progress = true
			}
		}
		if !progress {
			var stuck []string
			for _, p := range order {
				if !done[p.def.Name] {
					stuck = append(stuck, p.def.Name)
				}
			}
			return nil, status.Errorf(status.Import, "cycle between nodes %s", strings.Join(stuck, ", "))
		}
	}
	return sorted, nil
}

// Export returns the serialized form of the graph, in creation order.
func (g *Graph) Export() (*graphdef.GraphDef, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	def := &graphdef.GraphDef{}
	var errs []error
	for _, op := range g.ops {
		n := &graphdef.NodeDef{Name: op.name, Op: op.opType.String()}
		for _, in := range op.inputs {
			n.Inputs = append(n.Inputs, in.Op.name)
		}
		if op.dtype.Valid() {
			n.DType = op.dtype.String()
		}
		if op.value != nil {
			values, err := op.value.Values()
			if err != nil {
				errs = append(errs, status.Errorf(status.Execution, "exporting constant %q: %w", op.name, err))
				continue
			}
			n.Shape = op.value.Shape()
			n.Values = values
			n.HasValues = true
		}
		def.Nodes = append(def.Nodes, n)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return def, nil
}
