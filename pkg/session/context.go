// Package session ties a graph, a runtime and their feed and fetch sets into
// one execution context.
//
// A Context is not safe for concurrent use. Independent contexts share
// nothing and can be used from different goroutines.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/justinsb/kgraph/pkg/blobs"
	"github.com/justinsb/kgraph/pkg/engine"
	"github.com/justinsb/kgraph/pkg/engine/fallback"
	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
	"k8s.io/klog/v2"
)

// State is the lifecycle stage of a Context.
type State int

const (
	Uninitialized State = iota
	Ready
	Configured
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Ready:
		return "Ready"
	case Configured:
		return "Configured"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type options struct {
	runtime     engine.Runtime
	alloc       *tensor.Allocator
	blobReader  blobs.BlobReader
	uniqueNames bool
}

// Option configures New.
type Option func(*options)

// WithRuntime runs graphs on r instead of the pure-Go fallback runtime. The
// context takes ownership of r and closes it on Close.
func WithRuntime(r engine.Runtime) Option {
	return func(o *options) { o.runtime = r }
}

// WithAllocator creates the tensors of the context from alloc.
func WithAllocator(alloc *tensor.Allocator) Option {
	return func(o *options) { o.alloc = alloc }
}

// WithBlobReader makes LoadGraph read every location through r, with the
// location as the blob key. By default the reader is picked by URL scheme.
func WithBlobReader(r blobs.BlobReader) Option {
	return func(o *options) { o.blobReader = r }
}

// WithUniqueNames makes the builders rename nodes whose name is taken (or
// empty) instead of failing.
func WithUniqueNames() Option {
	return func(o *options) { o.uniqueNames = true }
}

// Context owns one graph, one runtime, the feed, fetch and target sets, and
// the status cell that records the outcome of the last call.
type Context struct {
	id    string
	state State

	graph       *graph.Graph
	runtime     engine.Runtime
	alloc       *tensor.Allocator
	blobReader  blobs.BlobReader
	uniqueNames bool

	status *status.Status

	// feeds own their tensors until replaced or closed.
	feeds   []engine.Feed
	fetches []graph.Output
	targets []*graph.Operation

	// results is parallel to fetches once a run has succeeded.
	results []*tensor.Tensor
	// runErr poisons the fetch slots after a failed run.
	runErr error
	ran    bool
}

// New allocates the graph, runtime and status of a new context.
func New(ctx context.Context, opts ...Option) (*Context, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.alloc == nil {
		o.alloc = tensor.DefaultAllocator
	}

	c := &Context{
		id:          uuid.NewString(),
		state:       Uninitialized,
		alloc:       o.alloc,
		blobReader:  o.blobReader,
		uniqueNames: o.uniqueNames,
		status:      status.New(),
	}

	runtime := o.runtime
	if runtime == nil {
		r, err := fallback.NewRuntime(o.alloc)
		if err != nil {
			return nil, status.Errorf(status.Configuration, "creating runtime: %w", err)
		}
		runtime = r
	}
	c.runtime = runtime
	c.graph = graph.New()
	c.state = Ready

	klog.FromContext(ctx).V(2).Info("created session", "session", c.id)
	return c, nil
}

// ID identifies the context in logs.
func (c *Context) ID() string { return c.id }

// State is the current lifecycle stage.
func (c *Context) State() State { return c.state }

// Status returns a copy of the status cell. It describes the most recent
// call only.
func (c *Context) Status() status.Status {
	return *c.status
}

// Graph exposes the underlying graph, mostly for export and inspection.
func (c *Context) Graph() *graph.Graph { return c.graph }

// Allocator is the allocator the context builds tensors with.
func (c *Context) Allocator() *tensor.Allocator { return c.alloc }

// record stores the outcome of a call in the status cell and passes err
// through.
func (c *Context) record(err error) error {
	c.status.Set(err)
	return err
}

func (c *Context) checkOpen() error {
	switch c.state {
	case Closed:
		return status.Errorf(status.Lifecycle, "session has been closed")
	case Uninitialized:
		return status.Errorf(status.Lifecycle, "session has not been initialized")
	}
	return nil
}

// Close releases the feed tensors, the results, the graph and the runtime.
// Every resource is released even if an earlier one fails; the failures are
// joined into the returned error. Any call after Close fails with a
// Lifecycle error.
func (c *Context) Close() error {
	if c == nil {
		return status.Errorf(status.Lifecycle, "session has not been initialized")
	}
	if err := c.checkOpen(); err != nil {
		return c.record(err)
	}
	c.state = Closed

	var errs []error
	if err := c.releaseFeeds(); err != nil {
		errs = append(errs, err)
	}
	if err := c.releaseResults(); err != nil {
		errs = append(errs, err)
	}
	c.fetches = nil
	c.targets = nil
	if err := c.graph.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing graph: %w", err))
	}
	if err := c.runtime.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing runtime: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		err = status.Errorf(status.Lifecycle, "closing session %s: %w", c.id, err)
	}
	return c.record(err)
}

func (c *Context) releaseFeeds() error {
	return c.releaseFeedsExcept(nil)
}

// releaseFeedsExcept releases the current feed set, leaving alone the
// tensors in keep.
func (c *Context) releaseFeedsExcept(keep map[*tensor.Tensor]bool) error {
	var errs []error
	for _, feed := range c.feeds {
		if keep[feed.Value] {
			continue
		}
		if err := feed.Value.Release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing feed %s: %w", feed.Output, err))
		}
	}
	c.feeds = nil
	return errors.Join(errs...)
}

func (c *Context) releaseResults() error {
	var errs []error
	for i, t := range c.results {
		if t == nil {
			continue
		}
		if err := t.Release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing result %d: %w", i, err))
		}
	}
	c.results = nil
	c.runErr = nil
	c.ran = false
	return errors.Join(errs...)
}
