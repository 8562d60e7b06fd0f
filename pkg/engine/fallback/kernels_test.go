package fallback

import (
	"testing"

	"github.com/justinsb/kgraph/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastShape(t *testing.T) {
	for _, tc := range []struct {
		a, b, want []int64
	}{
		{[]int64{1, 3}, []int64{1, 3}, []int64{1, 3}},
		{[]int64{2, 3}, []int64{3}, []int64{2, 3}},
		{[]int64{2, 1}, []int64{1, 4}, []int64{2, 4}},
		{[]int64{}, []int64{2, 2}, []int64{2, 2}},
	} {
		got, err := broadcastShape(tc.a, tc.b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v + %v", tc.a, tc.b)
	}

	_, err := broadcastShape([]int64{2, 3}, []int64{3, 2})
	assert.Error(t, err)
}

func TestAddBroadcast(t *testing.T) {
	alloc := tensor.NewAllocator()
	a, err := alloc.FromFloat64s([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	b, err := alloc.FromFloat64s([]float64{10, 20, 30}, 3)
	require.NoError(t, err)
	c, err := alloc.FromFloat64s([]float64{100, 200}, 2, 1)
	require.NoError(t, err)

	ab, err := add(alloc, a, b)
	require.NoError(t, err)
	got, _ := ab.Float64s()
	assert.Equal(t, []float64{11, 22, 33, 14, 25, 36}, got)

	ac, err := add(alloc, a, c)
	require.NoError(t, err)
	got, _ = ac.Float64s()
	assert.Equal(t, []float64{101, 102, 103, 204, 205, 206}, got)
	assert.Equal(t, []int64{2, 3}, ac.Shape())
}

func TestAddErrors(t *testing.T) {
	alloc := tensor.NewAllocator()
	i, _ := alloc.FromInt32s([]int32{1, 2, 3})
	f, _ := alloc.FromFloat64s([]float64{1, 2, 3})
	_, err := add(alloc, i, f)
	assert.ErrorContains(t, err, "dtype mismatch")

	g, _ := alloc.FromFloat64s([]float64{1, 2})
	_, err = add(alloc, f, g)
	assert.ErrorContains(t, err, "incompatible shapes")
	assert.Equal(t, 3, alloc.Live(), "failed kernels must not leak")
}

func TestMatMul(t *testing.T) {
	alloc := tensor.NewAllocator()

	a, _ := alloc.FromFloat64s([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b, _ := alloc.FromFloat64s([]float64{7, 8, 9, 10, 11, 12}, 3, 2)
	c, err := matMul(alloc, a, b)
	require.NoError(t, err)
	got, _ := c.Float64s()
	assert.Equal(t, []float64{58, 64, 139, 154}, got)
	assert.Equal(t, []int64{2, 2}, c.Shape())

	ai, _ := alloc.FromInt32s([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	bi, _ := alloc.FromInt32s([]int32{7, 8, 9, 10, 11, 12}, 3, 2)
	ci, err := matMul(alloc, ai, bi)
	require.NoError(t, err)
	goti, _ := ci.Int32s()
	assert.Equal(t, []int32{58, 64, 139, 154}, goti)

	empty, _ := alloc.FromFloat64s(nil, 2, 0)
	zero, _ := alloc.FromFloat64s(nil, 0, 3)
	e, err := matMul(alloc, empty, zero)
	require.NoError(t, err)
	got, _ = e.Float64s()
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, got)
}

func TestMatMulErrors(t *testing.T) {
	alloc := tensor.NewAllocator()
	a, _ := alloc.FromFloat64s([]float64{1, 2, 3}, 1, 3)
	_, err := matMul(alloc, a, a)
	assert.ErrorContains(t, err, "inner dimensions")

	v, _ := alloc.FromFloat64s([]float64{1, 2, 3})
	_, err = matMul(alloc, v, a)
	assert.ErrorContains(t, err, "matrices")

	i, _ := alloc.FromInt32s([]int32{1, 2, 3}, 3, 1)
	_, err = matMul(alloc, a, i)
	assert.ErrorContains(t, err, "dtype mismatch")
}
