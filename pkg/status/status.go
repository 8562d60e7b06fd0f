// Package status holds the single mutable status cell that every graph and
// session mutation writes its outcome into, and the error kinds it reports.
package status

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Kind classifies a failure reported through the status channel.
type Kind int

const (
	// Unknown is used for errors that did not originate in this module.
	Unknown Kind = iota
	Configuration
	Import
	NameCollision
	NameNotFound
	ShapeMismatch
	Execution
	Lifecycle
	InvalidArgument
)

var kindNames = map[Kind]string{
	Unknown:         "Unknown",
	Configuration:   "ConfigurationError",
	Import:          "ImportError",
	NameCollision:   "NameCollisionError",
	NameNotFound:    "NameNotFoundError",
	ShapeMismatch:   "ShapeMismatchError",
	Execution:       "ExecutionError",
	Lifecycle:       "LifecycleError",
	InvalidArgument: "InvalidArgumentError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error makes a Kind usable as a target for errors.Is.
func (k Kind) Error() string {
	return k.String()
}

// Code maps the kind onto the closest gRPC status code.
func (k Kind) Code() codes.Code {
	switch k {
	case Configuration:
		return codes.Unavailable
	case Import:
		return codes.DataLoss
	case NameCollision:
		return codes.AlreadyExists
	case NameNotFound:
		return codes.NotFound
	case ShapeMismatch, InvalidArgument:
		return codes.InvalidArgument
	case Execution:
		return codes.Internal
	case Lifecycle:
		return codes.FailedPrecondition
	default:
		return codes.Unknown
	}
}

// Error is an error carrying a Kind.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Errorf builds an *Error of the given kind. A %w verb in format is honored.
func Errorf(kind Kind, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), cause: errors.Unwrap(wrapped)}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports a match against a bare Kind, so errors.Is(err, status.NameNotFound) works.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

// GRPCStatus lets gRPC handlers return *Error directly.
func (e *Error) GRPCStatus() *grpcstatus.Status {
	return grpcstatus.New(e.Kind.Code(), e.Message)
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// Status is the success/error cell. It is overwritten by every mutating call
// and keeps no history, so it must be read right after the call of interest.
type Status struct {
	Code    codes.Code
	Kind    Kind
	Message string
}

// New returns a Status in the OK state.
func New() *Status {
	return &Status{Code: codes.OK}
}

// OK reports whether the last recorded call succeeded.
func (s Status) OK() bool {
	return s.Code == codes.OK
}

// Set records the outcome of a call; a nil err resets the cell to OK.
func (s *Status) Set(err error) {
	if err == nil {
		s.Reset()
		return
	}
	kind := KindOf(err)
	code := kind.Code()
	if kind == Unknown {
		if st, ok := grpcstatus.FromError(err); ok {
			code = st.Code()
		}
	}
	s.Code = code
	s.Kind = kind
	s.Message = err.Error()
}

// Reset puts the cell back into the OK state.
func (s *Status) Reset() {
	s.Code = codes.OK
	s.Kind = Unknown
	s.Message = ""
}

// Err converts the cell back into an error, or nil when OK.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &Error{Kind: s.Kind, Message: s.Message}
}

func (s Status) String() string {
	if s.Code == codes.OK {
		return "OK"
	}
	return fmt.Sprintf("%s (%s): %s", s.Kind, s.Code, s.Message)
}
