package tensor

import (
	"errors"
	"testing"

	"github.com/justinsb/kgraph/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCopiesValues(t *testing.T) {
	a := NewAllocator()
	values := []float64{1, 2, 3, 4, 5, 6}
	x, err := a.New(values, []int64{2, 3}, Float64)
	require.NoError(t, err)

	values[0] = 100
	got, err := x.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got)
	assert.Equal(t, []int64{2, 3}, x.Shape())
	assert.Equal(t, 6, x.Size())
	assert.Equal(t, int64(48), x.Bytes())
}

func TestNewInt32Truncates(t *testing.T) {
	x, err := New([]float64{2.7, -1.2, 3}, []int64{1, 3}, Int32)
	require.NoError(t, err)
	defer x.Release()

	got, err := x.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{2, -1, 3}, got)
}

func TestNewShapeMismatch(t *testing.T) {
	a := NewAllocator()
	_, err := a.New([]float64{1, 2, 3}, []int64{2, 2}, Float64)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ShapeMismatch))

	_, err = a.New(nil, []int64{-1}, Float64)
	assert.True(t, errors.Is(err, status.ShapeMismatch))

	assert.Equal(t, 0, a.Allocated())
}

func TestUnknownDTypeIsRejected(t *testing.T) {
	_, err := ParseDType("complex128")
	assert.True(t, errors.Is(err, status.InvalidArgument))

	_, err = New([]float64{1}, []int64{1}, InvalidDType)
	assert.True(t, errors.Is(err, status.InvalidArgument))

	for s, want := range map[string]DType{"int32": Int32, "float64": Float64, "double": Float64, " INT32 ": Int32} {
		got, err := ParseDType(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
}

func TestFilled(t *testing.T) {
	ones, err := Ones([]int64{2, 2})
	require.NoError(t, err)
	defer ones.Release()
	assert.Equal(t, Int32, ones.DType())
	got, _ := ones.Int32s()
	assert.Equal(t, []int32{1, 1, 1, 1}, got)

	halves, err := Filled([]int64{3}, 0.5, Float64)
	require.NoError(t, err)
	defer halves.Release()
	values, _ := halves.Values()
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, values)
}

func TestReadScalar(t *testing.T) {
	x, err := FromInt32s([]int32{3, 4, 5}, 1, 3)
	require.NoError(t, err)
	defer x.Release()

	v, err := ReadScalar[int32](x)
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)

	_, err = ReadScalar[float64](x)
	assert.True(t, errors.Is(err, status.InvalidArgument))

	empty, err := FromFloat64s(nil, 0)
	require.NoError(t, err)
	defer empty.Release()
	_, err = ReadScalar[float64](empty)
	assert.Error(t, err)
}

func TestReleaseOnce(t *testing.T) {
	a := NewAllocator()
	x, err := a.FromFloat64s([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Live())
	assert.Equal(t, int64(16), a.LiveBytes())

	require.NoError(t, x.Release())
	assert.True(t, x.Released())
	assert.Equal(t, 0, a.Live())

	assert.ErrorIs(t, x.Release(), ErrReleased)
	assert.Equal(t, 1, a.Released(), "callback must run once")

	_, err = x.Values()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = x.Clone()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestClone(t *testing.T) {
	a := NewAllocator()
	x, err := a.FromInt32s([]int32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	c, err := x.Clone()
	require.NoError(t, err)
	assert.Equal(t, 2, a.Live())

	require.NoError(t, x.Release())
	got, err := c.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 4}, got)
	assert.Equal(t, []int64{2, 2}, c.Shape())

	require.NoError(t, c.Release())
	assert.Equal(t, 0, a.Live())
	assert.Contains(t, a.String(), "0 live tensors")
}

func TestShapeOverflow(t *testing.T) {
	a := NewAllocator()
	for name, shape := range map[string][]int64{
		"product wraps":     {1 << 32, 1 << 32},
		"product negative":  {3, 1 << 62},
		"over limit":        {MaxElements + 1},
		"over limit 2d":     {1 << 16, 1 << 16},
		"negative after 0d": {0, -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.New(nil, shape, Float64)
			assert.True(t, errors.Is(err, status.ShapeMismatch), "New: %v", err)

			_, err = a.Filled(shape, 1, Int32)
			assert.True(t, errors.Is(err, status.ShapeMismatch), "Filled: %v", err)

			_, err = a.Zeros(Float64, shape)
			assert.True(t, errors.Is(err, status.ShapeMismatch), "Zeros: %v", err)
		})
	}
	assert.Equal(t, 0, a.Allocated())

	_, err := NumElements([]int64{1 << 32, 1 << 32})
	assert.True(t, errors.Is(err, status.ShapeMismatch))

	n, err := NumElements([]int64{1 << 40, 0})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
