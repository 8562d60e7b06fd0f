// Package binding exposes a session as flat entry points for host
// environments that cannot hold Go values: each call returns 0 on success
// and -1 on failure, or the name of the node it created ("" on failure).
//
// The outcome of the last call is kept in Status. Outcome lines that a
// console binding would print are logged instead.
package binding

import (
	"context"

	"github.com/justinsb/kgraph/pkg/session"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
	"k8s.io/klog/v2"
)

const (
	OK     = 0
	Failed = -1
)

// Binding holds at most one session at a time.
type Binding struct {
	ctx     context.Context
	opts    []session.Option
	session *session.Context
	status  *status.Status
}

// New returns a binding with no session. Node names are made unique
// automatically unless opts say otherwise.
func New(ctx context.Context, opts ...session.Option) *Binding {
	return &Binding{
		ctx:    ctx,
		opts:   append([]session.Option{session.WithUniqueNames()}, opts...),
		status: status.New(),
	}
}

// Status describes the last call.
func (b *Binding) Status() status.Status {
	return *b.status
}

// Session is the current session, or nil.
func (b *Binding) Session() *session.Context {
	return b.session
}

func (b *Binding) result(err error, msg string, keysAndValues ...any) int {
	b.status.Set(err)
	log := klog.FromContext(b.ctx)
	if err != nil {
		log.Error(err, msg, keysAndValues...)
		return Failed
	}
	log.Info(msg, keysAndValues...)
	return OK
}

// name reports the outcome of a builder call that creates a node of the
// given kind.
func (b *Binding) name(name string, err error, kind string) string {
	msg := "added " + kind
	if err != nil {
		msg = "error adding " + kind
	}
	if b.result(err, msg, "name", name) != OK {
		return ""
	}
	return name
}

func (b *Binding) current() (*session.Context, error) {
	if b.session == nil {
		return nil, status.Errorf(status.Lifecycle, "no session; call InstantiateSessionVariables first")
	}
	return b.session, nil
}

// InstantiateSessionVariables creates the session, its graph and status.
func (b *Binding) InstantiateSessionVariables() int {
	if b.session != nil {
		return b.result(status.Errorf(status.Lifecycle, "session already instantiated"), "error instantiating session")
	}
	s, err := session.New(b.ctx, b.opts...)
	if err != nil {
		return b.result(err, "error instantiating session")
	}
	b.session = s
	return b.result(nil, "instantiated session", "session", s.ID())
}

// LoadGraphFromFile imports a serialized graph into the session.
func (b *Binding) LoadGraphFromFile(path string) int {
	s, err := b.current()
	if err == nil {
		err = s.LoadGraph(b.ctx, path)
	}
	if err != nil {
		return b.result(err, "error importing graph", "path", path)
	}
	return b.result(nil, "successfully imported graph", "path", path)
}

// Placeholder adds an input node; dtype is "int32" or "float64".
func (b *Binding) Placeholder(name, dtype string) string {
	s, err := b.current()
	if err != nil {
		return b.name(name, err, "placeholder")
	}
	dt, err := tensor.ParseDType(dtype)
	if err != nil {
		return b.name(name, err, "placeholder")
	}
	name, err = s.Placeholder(name, dt)
	return b.name(name, err, "placeholder")
}

// Constant adds a node holding values with the given shape.
func (b *Binding) Constant(values []float64, shape []int64, name, dtype string) string {
	s, err := b.current()
	if err != nil {
		return b.name(name, err, "constant")
	}
	dt, err := tensor.ParseDType(dtype)
	if err != nil {
		return b.name(name, err, "constant")
	}
	name, err = s.Constant(values, shape, name, dt)
	return b.name(name, err, "constant")
}

// Add adds the sum of the nodes named left and right.
func (b *Binding) Add(left, right, name string) string {
	s, err := b.current()
	if err != nil {
		return b.name(name, err, "add")
	}
	name, err = s.Add(left, right, name)
	return b.name(name, err, "add")
}

// MatMul adds the matrix product of the nodes named left and right.
func (b *Binding) MatMul(left, right, name string) string {
	s, err := b.current()
	if err != nil {
		return b.name(name, err, "matmul")
	}
	name, err = s.MatMul(left, right, name)
	return b.name(name, err, "matmul")
}

// FeedInput binds values, as a row vector, to the node called name. It
// replaces any earlier feed.
func (b *Binding) FeedInput(name string, values []float64, dtype string) int {
	s, err := b.current()
	if err != nil {
		return b.result(err, "error feeding input", "name", name)
	}
	dt, err := tensor.ParseDType(dtype)
	if err != nil {
		return b.result(err, "error feeding input", "name", name)
	}
	return b.result(s.FeedInput(name, values, nil, dt), "fed input", "name", name, "values", len(values))
}

// SetOutput makes the node called name the only fetched output.
func (b *Binding) SetOutput(name string) int {
	s, err := b.current()
	if err == nil {
		err = s.SetOutputs(name)
	}
	return b.result(err, "set output", "name", name)
}

// RunSession runs the graph once.
func (b *Binding) RunSession() int {
	s, err := b.current()
	if err == nil {
		err = s.Run(b.ctx)
	}
	if err != nil {
		return b.result(err, "error running session")
	}
	return b.result(nil, "ran session")
}

// PrintIntOutputs returns the first element of the first output, which must
// be int32. It returns 0 on failure; Status has the reason.
func (b *Binding) PrintIntOutputs() int32 {
	s, err := b.current()
	var v int32
	if err == nil {
		v, err = s.ReadInt32(0)
	}
	b.result(err, "output value", "value", v)
	return v
}

// PrintDoubleOutputs is PrintIntOutputs for float64 outputs.
func (b *Binding) PrintDoubleOutputs() float64 {
	s, err := b.current()
	var v float64
	if err == nil {
		v, err = s.ReadFloat64(0)
	}
	b.result(err, "output value", "value", v)
	return v
}

// PrintMap logs every node name with its operation.
func (b *Binding) PrintMap() int {
	s, err := b.current()
	if err != nil {
		return b.result(err, "error listing nodes")
	}
	log := klog.FromContext(b.ctx)
	for _, name := range s.Names() {
		op, err := s.Operation(name)
		if err != nil {
			return b.result(err, "error listing nodes")
		}
		log.Info("node", "name", name, "op", op.Type(), "dtype", op.DType())
	}
	return b.result(nil, "listed nodes", "count", len(s.Names()))
}

// DeleteSessionVariables closes the session. A new one can be instantiated
// afterwards.
func (b *Binding) DeleteSessionVariables() int {
	s, err := b.current()
	if err != nil {
		return b.result(err, "error deleting session")
	}
	b.session = nil
	return b.result(s.Close(), "deleted session")
}
