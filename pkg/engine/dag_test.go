package engine

import (
	"testing"

	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(ops []*graph.Operation) []string {
	var out []string
	for _, op := range ops {
		out = append(out, op.Name())
	}
	return out
}

func TestBuildDAG(t *testing.T) {
	g := graph.New()
	a, err := g.Placeholder("a", tensor.Float64)
	require.NoError(t, err)
	b, err := g.Placeholder("b", tensor.Float64)
	require.NoError(t, err)
	unused, err := g.Placeholder("unused", tensor.Float64)
	require.NoError(t, err)
	sum, err := g.Add("sum", a, b)
	require.NoError(t, err)
	prod, err := g.MatMul("prod", sum, a)
	require.NoError(t, err)
	_, err = g.Add("other", unused, unused)
	require.NoError(t, err)

	order, err := BuildDAG(Marshal(nil, []graph.Output{prod.Output()}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "sum", "prod"}, names(order))

	// Feeding sum cuts off its inputs.
	v, err := tensor.FromFloat64s([]float64{1})
	require.NoError(t, err)
	defer v.Release()
	order, err = BuildDAG(Marshal([]Feed{{Output: sum.Output(), Value: v}}, []graph.Output{prod.Output()}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "sum", "prod"}, names(order))

	order, err = BuildDAG(Marshal(nil, nil, []*graph.Operation{sum}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "sum"}, names(order))

	order, err = BuildDAG(Marshal(nil, nil, nil))
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestMarshalUsesNilForEmpty(t *testing.T) {
	args := Marshal(nil, nil, nil)
	assert.Nil(t, args.Inputs)
	assert.Nil(t, args.InputValues)
	assert.Nil(t, args.Outputs)
	assert.Nil(t, args.OutputValues)
	assert.Nil(t, args.Targets)
	require.NoError(t, args.Validate())

	args = Marshal([]Feed{}, []graph.Output{}, []*graph.Operation{})
	assert.Nil(t, args.Inputs)
	assert.Nil(t, args.OutputValues)
	assert.Nil(t, args.Targets)
}

func TestMarshalParallelArrays(t *testing.T) {
	g := graph.New()
	x, err := g.Placeholder("x", tensor.Int32)
	require.NoError(t, err)
	y, err := g.Add("y", x, x)
	require.NoError(t, err)
	v, err := tensor.FromInt32s([]int32{1})
	require.NoError(t, err)
	defer v.Release()

	args := Marshal([]Feed{{Output: x.Output(), Value: v}}, []graph.Output{y.Output(), x.Output()}, []*graph.Operation{y})
	require.Len(t, args.Inputs, 1)
	require.Len(t, args.InputValues, 1)
	assert.Same(t, v, args.InputValues[0])
	require.Len(t, args.Outputs, 2)
	assert.Equal(t, []*tensor.Tensor{nil, nil}, args.OutputValues)
	assert.Len(t, args.Targets, 1)
	require.NoError(t, args.Validate())

	released, err := tensor.FromInt32s([]int32{1})
	require.NoError(t, err)
	require.NoError(t, released.Release())
	args.InputValues[0] = released
	assert.ErrorContains(t, args.Validate(), "has no value")
}
