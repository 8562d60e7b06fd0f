// Package tensor allocates, types and releases the value buffers that flow
// into and out of a graph.
//
// A Tensor owns an independent copy of its values. It carries a release
// callback that runs exactly once, when the current owner calls Release.
// Ownership moves between components (the caller, a feed set, a fetch slot,
// a Const node), and the owner of record is the one responsible for Release.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/justinsb/kgraph/pkg/status"
)

// ErrReleased is returned when a tensor is used or released after Release.
var ErrReleased = errors.New("tensor already released")

// Tensor is a typed, shaped, contiguous value buffer.
type Tensor struct {
	dtype DType
	shape []int64

	// Exactly one of these is set, depending on dtype.
	i32 []int32
	f64 []float64

	alloc    *Allocator
	release  func()
	released atomic.Bool
}

// New builds a tensor of the given dtype from a flat list of values, copying
// them. The product of shape must equal len(values).
func New(values []float64, shape []int64, dtype DType) (*Tensor, error) {
	return DefaultAllocator.New(values, shape, dtype)
}

// Filled builds a tensor of the given shape with every element set to fill.
func Filled(shape []int64, fill float64, dtype DType) (*Tensor, error) {
	return DefaultAllocator.Filled(shape, fill, dtype)
}

// Ones is an int32 tensor of the given shape filled with 1.
func Ones(shape []int64) (*Tensor, error) {
	return DefaultAllocator.Filled(shape, 1, Int32)
}

// FromInt32s builds an int32 tensor, copying data.
func FromInt32s(data []int32, shape ...int64) (*Tensor, error) {
	return fromFlat(DefaultAllocator, data, shape)
}

// FromFloat64s builds a float64 tensor, copying data.
func FromFloat64s(data []float64, shape ...int64) (*Tensor, error) {
	return fromFlat(DefaultAllocator, data, shape)
}

func fromFlat[T Element](a *Allocator, data []T, shape []int64) (*Tensor, error) {
	if shape == nil {
		shape = []int64{int64(len(data))}
	}
	n, err := checkedElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, status.Errorf(status.ShapeMismatch, "shape %v holds %d values, got %d", shape, n, len(data))
	}
	t := a.alloc(DTypeOf[T](), shape)
	flat, _ := Flat[T](t)
	copy(flat, data)
	return t, nil
}

// MaxElements bounds the number of elements of a single tensor.
const MaxElements = 1 << 30

// NumElements is the product of the dimensions of shape. It fails when a
// dimension is negative or the product does not fit in an int.
func NumElements(shape []int64) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, status.Errorf(status.ShapeMismatch, "negative dimension in shape %v", shape)
		}
		if d > math.MaxInt || (d != 0 && n > math.MaxInt/int(d)) {
			return 0, status.Errorf(status.ShapeMismatch, "shape %v has too many elements", shape)
		}
		n *= int(d)
	}
	return n, nil
}

// checkedElements is NumElements for a buffer about to be allocated.
func checkedElements(shape []int64) (int, error) {
	n, err := NumElements(shape)
	if err != nil {
		return 0, err
	}
	if n > MaxElements {
		return 0, status.Errorf(status.ShapeMismatch, "shape %v has %d elements, more than the limit of %d", shape, n, MaxElements)
	}
	return n, nil
}

// DType of the tensor elements.
func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Rank is the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Size is the number of elements.
func (t *Tensor) Size() int {
	n, _ := NumElements(t.shape)
	return n
}

// Bytes is the size of the buffer in bytes.
func (t *Tensor) Bytes() int64 {
	return int64(t.Size()) * int64(t.dtype.Size())
}

// Released reports whether Release has been called.
func (t *Tensor) Released() bool {
	return t.released.Load()
}

// Release frees the buffer and runs the release callback. A second call
// returns ErrReleased and does not run the callback again.
func (t *Tensor) Release() error {
	if t == nil {
		return nil
	}
	if !t.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	t.i32 = nil
	t.f64 = nil
	if t.release != nil {
		t.release()
	}
	return nil
}

// Flat returns the underlying buffer without copying. The slice is only
// valid until the tensor is released.
func Flat[T Element](t *Tensor) ([]T, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	var out any
	switch t.dtype {
	case Int32:
		out = t.i32
	case Float64:
		out = t.f64
	}
	flat, ok := out.([]T)
	if !ok {
		return nil, status.Errorf(status.InvalidArgument, "tensor has dtype %s, requested %s", t.dtype, DTypeOf[T]())
	}
	return flat, nil
}

// ReadScalar interprets the first element of t as T. It fails on an empty or
// released tensor, or when T does not match the tensor dtype.
func ReadScalar[T Element](t *Tensor) (T, error) {
	var zero T
	flat, err := Flat[T](t)
	if err != nil {
		return zero, err
	}
	if len(flat) == 0 {
		return zero, status.Errorf(status.InvalidArgument, "cannot read scalar from empty tensor of shape %v", t.shape)
	}
	return flat[0], nil
}

// Int32s returns a copy of the values of an int32 tensor.
func (t *Tensor) Int32s() ([]int32, error) {
	flat, err := Flat[int32](t)
	if err != nil {
		return nil, err
	}
	return append([]int32(nil), flat...), nil
}

// Float64s returns a copy of the values of a float64 tensor.
func (t *Tensor) Float64s() ([]float64, error) {
	flat, err := Flat[float64](t)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), flat...), nil
}

// Values returns the values converted to float64, whatever the dtype.
func (t *Tensor) Values() ([]float64, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	switch t.dtype {
	case Int32:
		out := make([]float64, len(t.i32))
		for i, v := range t.i32 {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return append([]float64(nil), t.f64...), nil
	}
}

// Clone returns an independent copy, accounted in the same allocator.
func (t *Tensor) Clone() (*Tensor, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	a := t.alloc
	if a == nil {
		a = DefaultAllocator
	}
	c := a.alloc(t.dtype, t.shape)
	copy(c.i32, t.i32)
	copy(c.f64, t.f64)
	return c, nil
}

func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.Released() {
		return fmt.Sprintf("Tensor(%s, %v, released)", t.dtype, t.shape)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(%s, %v): ", t.dtype, t.shape)
	switch t.dtype {
	case Int32:
		fmt.Fprint(&sb, t.i32)
	default:
		fmt.Fprint(&sb, t.f64)
	}
	return sb.String()
}
