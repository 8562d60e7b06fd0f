package session

import (
	"context"
	"time"

	"github.com/justinsb/kgraph/pkg/engine"
	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
	"k8s.io/klog/v2"
)

// Feed binds a tensor to the node called Name.
type Feed struct {
	Name  string
	Value *tensor.Tensor
}

// SetInputs replaces the feed set. The context takes ownership of every
// tensor in feeds, even when the call fails; the tensors of the previous
// feed set are released once the new set is in place, except those fed
// again. On failure the previous feed set is kept.
func (c *Context) SetInputs(feeds []Feed) error {
	if err := c.checkOpen(); err != nil {
		c.releaseUnowned(feeds)
		return c.record(err)
	}

	next, err := c.resolveFeeds(feeds)
	if err != nil {
		c.releaseUnowned(feeds)
		return c.record(err)
	}

	keep := make(map[*tensor.Tensor]bool, len(next))
	for _, feed := range next {
		keep[feed.Value] = true
	}
	releaseErr := c.releaseFeedsExcept(keep)
	c.feeds = next
	c.state = Configured
	if releaseErr != nil {
		return c.record(status.Errorf(status.Execution, "replacing feeds: %w", releaseErr))
	}
	return c.record(nil)
}

func (c *Context) resolveFeeds(feeds []Feed) ([]engine.Feed, error) {
	if len(feeds) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(feeds))
	values := make(map[*tensor.Tensor]string, len(feeds))
	next := make([]engine.Feed, 0, len(feeds))
	for _, feed := range feeds {
		if feed.Value == nil || feed.Value.Released() {
			return nil, status.Errorf(status.InvalidArgument, "feed for %q has no value", feed.Name)
		}
		if seen[feed.Name] {
			return nil, status.Errorf(status.InvalidArgument, "%q is fed more than once", feed.Name)
		}
		if other, ok := values[feed.Value]; ok {
			return nil, status.Errorf(status.InvalidArgument, "feeds for %q and %q share one tensor", other, feed.Name)
		}
		seen[feed.Name] = true
		values[feed.Value] = feed.Name
		op, err := c.graph.Operation(feed.Name)
		if err != nil {
			return nil, err
		}
		next = append(next, engine.Feed{Output: op.Output(), Value: feed.Value})
	}
	return next, nil
}

// releaseUnowned releases the tensors of a rejected feed set, except those
// the current feed set still holds.
func (c *Context) releaseUnowned(feeds []Feed) {
	owned := make(map[*tensor.Tensor]bool, len(c.feeds))
	for _, feed := range c.feeds {
		owned[feed.Value] = true
	}
	for _, feed := range feeds {
		if feed.Value != nil && !owned[feed.Value] {
			feed.Value.Release()
		}
	}
}

// FeedInput replaces the feed set with a single tensor built from values.
// A nil shape means a row vector, [1, len(values)].
func (c *Context) FeedInput(name string, values []float64, shape []int64, dtype tensor.DType) error {
	if err := c.checkOpen(); err != nil {
		return c.record(err)
	}
	if shape == nil {
		shape = []int64{1, int64(len(values))}
	}
	value, err := c.alloc.New(values, shape, dtype)
	if err != nil {
		return c.record(status.Errorf(status.KindOf(err), "feeding %q: %w", name, err))
	}
	return c.SetInputs([]Feed{{Name: name, Value: value}})
}

// SetOutputs replaces the fetch set with the named nodes. Results of an
// earlier run are released.
func (c *Context) SetOutputs(names ...string) error {
	if err := c.checkOpen(); err != nil {
		return c.record(err)
	}
	var fetches []graph.Output
	for _, name := range names {
		op, err := c.graph.Operation(name)
		if err != nil {
			return c.record(err)
		}
		fetches = append(fetches, op.Output())
	}

	releaseErr := c.releaseResults()
	c.fetches = fetches
	c.state = Configured
	if releaseErr != nil {
		return c.record(status.Errorf(status.Execution, "replacing outputs: %w", releaseErr))
	}
	return c.record(nil)
}

// SetTargets replaces the set of nodes that are run without being fetched.
func (c *Context) SetTargets(names ...string) error {
	if err := c.checkOpen(); err != nil {
		return c.record(err)
	}
	var targets []*graph.Operation
	for _, name := range names {
		op, err := c.graph.Operation(name)
		if err != nil {
			return c.record(err)
		}
		targets = append(targets, op)
	}
	c.targets = targets
	c.state = Configured
	return c.record(nil)
}

// Outputs lists the names of the fetched nodes, in slot order.
func (c *Context) Outputs() []string {
	var names []string
	for _, out := range c.fetches {
		names = append(names, out.Op.Name())
	}
	return names
}

// Run executes the graph once against the current feed, fetch and target
// sets. Nothing is cached between runs.
//
// The results of the previous run are released first. On success every
// fetch slot holds a new tensor owned by the context. On failure the slots
// are empty and reading them returns the run error.
func (c *Context) Run(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return c.record(err)
	}
	log := klog.FromContext(ctx).WithValues("session", c.id)

	if err := c.releaseResults(); err != nil {
		log.Error(err, "releasing results of previous run")
	}

	startedAt := time.Now()
	results, err := engine.Evaluate(ctx, c.runtime, c.feeds, c.fetches, c.targets)
	if err != nil {
		c.runErr = err
		log.Info("run failed", "error", err)
		return c.record(err)
	}
	c.results = results
	c.ran = true

	log.V(2).Info("ran graph", "feeds", len(c.feeds), "fetches", len(c.fetches), "targets", len(c.targets), "duration", time.Since(startedAt))
	return c.record(nil)
}

// Output returns the result in fetch slot i. The tensor stays owned by the
// context and is released by the next Run, SetOutputs or Close.
func (c *Context) Output(i int) (*tensor.Tensor, error) {
	t, err := c.output(i)
	return t, c.record(err)
}

func (c *Context) output(i int) (*tensor.Tensor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(c.fetches) {
		return nil, status.Errorf(status.InvalidArgument, "output %d out of range, %d outputs are set", i, len(c.fetches))
	}
	if c.runErr != nil {
		return nil, status.Errorf(status.KindOf(c.runErr), "output %s: last run failed: %w", c.fetches[i], c.runErr)
	}
	if !c.ran {
		return nil, status.Errorf(status.Lifecycle, "output %s: graph has not been run", c.fetches[i])
	}
	t := c.results[i]
	if t.Released() {
		return nil, status.Errorf(status.Lifecycle, "output %s: %w", c.fetches[i], tensor.ErrReleased)
	}
	return t, nil
}

// OutputByName returns the result of the fetched node called name.
func (c *Context) OutputByName(name string) (*tensor.Tensor, error) {
	for i, out := range c.fetches {
		if out.Op.Name() == name {
			return c.Output(i)
		}
	}
	if err := c.checkOpen(); err != nil {
		return nil, c.record(err)
	}
	return nil, c.record(status.Errorf(status.NameNotFound, "%q is not an output", name))
}

// ReadInt32 reads the first element of the int32 result in slot i.
func (c *Context) ReadInt32(i int) (int32, error) {
	return readScalar[int32](c, i)
}

// ReadFloat64 reads the first element of the float64 result in slot i.
func (c *Context) ReadFloat64(i int) (float64, error) {
	return readScalar[float64](c, i)
}

func readScalar[T tensor.Element](c *Context, i int) (T, error) {
	var zero T
	t, err := c.output(i)
	if err != nil {
		return zero, c.record(err)
	}
	v, err := tensor.ReadScalar[T](t)
	if err != nil {
		return zero, c.record(err)
	}
	c.record(nil)
	return v, nil
}

// RunErr is the error of the last run, or nil if it succeeded or no run
// happened since the fetch set changed.
func (c *Context) RunErr() error {
	return c.runErr
}
