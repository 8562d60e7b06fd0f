package fallback

import (
	"fmt"

	"github.com/justinsb/kgraph/pkg/tensor"
	"gonum.org/v1/gonum/mat"
)

// add computes the element-wise sum with numpy-style broadcasting.
func add(alloc *tensor.Allocator, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("dtype mismatch: %s and %s", a.DType(), b.DType())
	}
	outShape, err := broadcastShape(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	out, err := alloc.Zeros(a.DType(), outShape)
	if err != nil {
		return nil, err
	}
	switch a.DType() {
	case tensor.Int32:
		err = addFlat[int32](a, b, out)
	case tensor.Float64:
		err = addFlat[float64](a, b, out)
	default:
		err = fmt.Errorf("unsupported dtype %s", a.DType())
	}
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

func addFlat[T tensor.Element](a, b, out *tensor.Tensor) error {
	av, err := tensor.Flat[T](a)
	if err != nil {
		return err
	}
	bv, err := tensor.Flat[T](b)
	if err != nil {
		return err
	}
	ov, err := tensor.Flat[T](out)
	if err != nil {
		return err
	}

	outShape := out.Shape()
	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	coords := make([]int64, len(outShape))
	for i := range ov {
		var ai, bi int64
		for d, c := range coords {
			ai += c * aStrides[d]
			bi += c * bStrides[d]
		}
		ov[i] = av[ai] + bv[bi]

		// Advance the row-major coordinates.
		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < outShape[d] {
				break
			}
			coords[d] = 0
		}
	}
	return nil
}

// broadcastShape aligns a and b on their trailing axes; each pair of
// dimensions must be equal or contain a 1.
func broadcastShape(a, b []int64) ([]int64, error) {
	rank := max(len(a), len(b))
	out := make([]int64, rank)
	for i := 0; i < rank; i++ {
		da, db := int64(1), int64(1)
		if j := len(a) - rank + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - rank + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("incompatible shapes %v and %v", a, b)
		}
	}
	return out, nil
}

// broadcastStrides returns, for each axis of outShape, the step in the flat
// data of an operand of the given shape; broadcast axes step by 0.
func broadcastStrides(shape, outShape []int64) []int64 {
	rank := len(outShape)
	strides := make([]int64, rank)
	stride := int64(1)
	for i := rank - 1; i >= 0; i-- {
		j := len(shape) - rank + i
		if j < 0 {
			continue
		}
		if shape[j] != 1 || outShape[i] == 1 {
			strides[i] = stride
		}
		stride *= shape[j]
	}
	return strides
}

// matMul multiplies two rank-2 tensors.
func matMul(alloc *tensor.Allocator, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("dtype mismatch: %s and %s", a.DType(), b.DType())
	}
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, fmt.Errorf("both operands must be matrices, got shapes %v and %v", as, bs)
	}
	m, k, n := as[0], as[1], bs[1]
	if bs[0] != k {
		return nil, fmt.Errorf("inner dimensions differ: %v x %v", as, bs)
	}
	out, err := alloc.Zeros(a.DType(), []int64{m, n})
	if err != nil {
		return nil, err
	}
	if m == 0 || n == 0 || k == 0 {
		return out, nil
	}

	switch a.DType() {
	case tensor.Float64:
		err = matMulFloat64(a, b, out, int(m), int(k), int(n))
	case tensor.Int32:
		err = matMulInt32(a, b, out, int(m), int(k), int(n))
	default:
		err = fmt.Errorf("unsupported dtype %s", a.DType())
	}
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

func matMulFloat64(a, b, out *tensor.Tensor, m, k, n int) error {
	av, err := tensor.Flat[float64](a)
	if err != nil {
		return err
	}
	bv, err := tensor.Flat[float64](b)
	if err != nil {
		return err
	}
	ov, err := tensor.Flat[float64](out)
	if err != nil {
		return err
	}
	// mat.NewDense wraps the slices without copying, so the product lands in ov.
	result := mat.NewDense(m, n, ov)
	result.Mul(mat.NewDense(m, k, av), mat.NewDense(k, n, bv))
	return nil
}

func matMulInt32(a, b, out *tensor.Tensor, m, k, n int) error {
	av, err := tensor.Flat[int32](a)
	if err != nil {
		return err
	}
	bv, err := tensor.Flat[int32](b)
	if err != nil {
		return err
	}
	ov, err := tensor.Flat[int32](out)
	if err != nil {
		return err
	}
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			x := av[i*k+p]
			if x == 0 {
				continue
			}
			row := bv[p*n : (p+1)*n]
			dst := ov[i*n : (i+1)*n]
			for j, y := range row {
				dst[j] += x * y
			}
		}
	}
	return nil
}
