package tensor

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/justinsb/kgraph/pkg/status"
)

// Allocator creates tensors and keeps count of how many are still live.
// Every tensor it creates decrements the counters exactly once, when released.
type Allocator struct {
	mu sync.Mutex

	allocated int
	released  int
	liveBytes int64
}

// DefaultAllocator backs the package-level constructors.
var DefaultAllocator = NewAllocator()

func NewAllocator() *Allocator {
	return &Allocator{}
}

// New builds a tensor from float64 values, converting them to dtype.
func (a *Allocator) New(values []float64, shape []int64, dtype DType) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, status.Errorf(status.InvalidArgument, "unsupported dtype %v", dtype)
	}
	n, err := checkedElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, status.Errorf(status.ShapeMismatch, "shape %v holds %d values, got %d", shape, n, len(values))
	}
	t := a.alloc(dtype, shape)
	switch dtype {
	case Int32:
		for i, v := range values {
			t.i32[i] = int32(v)
		}
	case Float64:
		copy(t.f64, values)
	}
	return t, nil
}

// Filled builds a tensor of the given shape with every element set to fill.
func (a *Allocator) Filled(shape []int64, fill float64, dtype DType) (*Tensor, error) {
	t, err := a.Zeros(dtype, shape)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case Int32:
		for i := range t.i32 {
			t.i32[i] = int32(fill)
		}
	case Float64:
		for i := range t.f64 {
			t.f64[i] = fill
		}
	}
	return t, nil
}

// Zeros builds a zero-valued tensor.
func (a *Allocator) Zeros(dtype DType, shape []int64) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, status.Errorf(status.InvalidArgument, "unsupported dtype %v", dtype)
	}
	if _, err := checkedElements(shape); err != nil {
		return nil, err
	}
	return a.alloc(dtype, shape), nil
}

// FromInt32s builds an int32 tensor accounted by a, copying data.
func (a *Allocator) FromInt32s(data []int32, shape ...int64) (*Tensor, error) {
	return fromFlat(a, data, shape)
}

// FromFloat64s builds a float64 tensor accounted by a, copying data.
func (a *Allocator) FromFloat64s(data []float64, shape ...int64) (*Tensor, error) {
	return fromFlat(a, data, shape)
}

// alloc expects a valid dtype and shape.
func (a *Allocator) alloc(dtype DType, shape []int64) *Tensor {
	n, _ := NumElements(shape)
	t := &Tensor{
		dtype: dtype,
		shape: append([]int64{}, shape...),
		alloc: a,
	}
	switch dtype {
	case Int32:
		t.i32 = make([]int32, n)
	case Float64:
		t.f64 = make([]float64, n)
	}
	bytes := t.Bytes()

	a.mu.Lock()
	a.allocated++
	a.liveBytes += bytes
	a.mu.Unlock()

	t.release = func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.released++
		a.liveBytes -= bytes
	}
	return t
}

// Allocated is the number of tensors created so far.
func (a *Allocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

// Released is the number of tensors released so far.
func (a *Allocator) Released() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Live is the number of tensors created and not yet released.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated - a.released
}

// LiveBytes is the buffer size of the live tensors.
func (a *Allocator) LiveBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveBytes
}

func (a *Allocator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("%d live tensors (%s), %d allocated, %d released",
		a.allocated-a.released, humanize.IBytes(uint64(a.liveBytes)), a.allocated, a.released)
}
