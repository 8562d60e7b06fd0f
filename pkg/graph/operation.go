package graph

import (
	"fmt"

	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
)

// OpType is the kind of an operation.
type OpType int

const (
	InvalidOp OpType = iota
	OpPlaceholder
	OpConst
	OpAdd
	OpMatMul
)

var opTypeNames = map[OpType]string{
	OpPlaceholder: "Placeholder",
	OpConst:       "Const",
	OpAdd:         "Add",
	OpMatMul:      "MatMul",
}

func (t OpType) String() string {
	if s, ok := opTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("OpType(%d)", int(t))
}

// ParseOpType maps a serialized op name onto an OpType.
func ParseOpType(s string) (OpType, error) {
	for t, name := range opTypeNames {
		if name == s {
			return t, nil
		}
	}
	return InvalidOp, status.Errorf(status.Import, "unsupported operation type %q", s)
}

// NumInputs is the number of inputs an operation of this type takes.
func (t OpType) NumInputs() int {
	switch t {
	case OpAdd, OpMatMul:
		return 2
	}
	return 0
}

// Output identifies one output of an operation. Every operation here has a
// single output, so Index is always 0.
type Output struct {
	Op    *Operation
	Index int
}

func (o Output) String() string {
	return fmt.Sprintf("%s:%d", o.Op.Name(), o.Index)
}

// Operation is a vertex of the graph. It is owned by the Graph that created
// it and never changes after creation.
type Operation struct {
	graph  *Graph
	id     int
	name   string
	opType OpType
	inputs []Output

	// Source operations only.
	dtype tensor.DType
	value *tensor.Tensor
}

// ID is the creation index of the operation within its graph.
func (o *Operation) ID() int { return o.id }

func (o *Operation) Name() string { return o.name }

func (o *Operation) Type() OpType { return o.opType }

// Inputs returns the ordered input edges.
func (o *Operation) Inputs() []Output {
	return append([]Output(nil), o.inputs...)
}

// DType is the element type of a Placeholder or Const, InvalidDType otherwise.
func (o *Operation) DType() tensor.DType { return o.dtype }

// Value is the attribute tensor of a Const, nil otherwise. It stays owned by
// the graph; callers must not release it.
func (o *Operation) Value() *tensor.Tensor { return o.value }

// Output returns the single output of the operation.
func (o *Operation) Output() Output {
	return Output{Op: o, Index: 0}
}

func (o *Operation) String() string {
	return fmt.Sprintf("%s(%s)", o.opType, o.name)
}
