package tensor

import (
	"fmt"
	"strings"

	"github.com/justinsb/kgraph/pkg/status"
)

// DType is the element type of a tensor. The set is closed: only Int32 and
// Float64 exist, and anything else is rejected at construction.
type DType int

const (
	InvalidDType DType = iota
	Int32
	Float64
)

// Element is the set of Go types backing the supported dtypes.
type Element interface {
	int32 | float64
}

// ParseDType parses a dtype tag. Unknown tags are an error, not a float64 default.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32", "int":
		return Int32, nil
	case "float64", "double":
		return Float64, nil
	}
	return InvalidDType, status.Errorf(status.InvalidArgument, "unsupported dtype %q (want int32 or float64)", s)
}

// DTypeOf returns the dtype backed by T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case int32:
		return Int32
	default:
		return Float64
	}
}

// Valid reports whether d is one of the supported dtypes.
func (d DType) Valid() bool {
	return d == Int32 || d == Float64
}

// Size is the number of bytes of one element.
func (d DType) Size() int {
	switch d {
	case Int32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (d DType) String() string {
	switch d {
	case Int32:
		return "int32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}
