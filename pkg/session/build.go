package session

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/justinsb/kgraph/pkg/blobs"
	"github.com/justinsb/kgraph/pkg/graph"
	"github.com/justinsb/kgraph/pkg/graphdef"
	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
	"k8s.io/klog/v2"
)

// nodeName picks the name for a new node. With unique names a taken or empty
// name is replaced by a fresh one derived from it.
func (c *Context) nodeName(name string, opType graph.OpType) string {
	if !c.uniqueNames {
		return name
	}
	if name == "" {
		name = opType.String()
	}
	return c.graph.Registry().UniqueName(name)
}

// Placeholder adds an input node and returns its name.
func (c *Context) Placeholder(name string, dtype tensor.DType) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", c.record(err)
	}
	op, err := c.graph.Placeholder(c.nodeName(name, graph.OpPlaceholder), dtype)
	if err != nil {
		return "", c.record(err)
	}
	c.record(nil)
	return op.Name(), nil
}

// Constant adds a node holding a copy of values with the given shape and
// returns its name. A failed call registers nothing.
func (c *Context) Constant(values []float64, shape []int64, name string, dtype tensor.DType) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", c.record(err)
	}
	name = c.nodeName(name, graph.OpConst)
	value, err := c.alloc.New(values, shape, dtype)
	if err != nil {
		return "", c.record(status.Errorf(status.KindOf(err), "constant %q: %w", name, err))
	}
	op, err := c.graph.Const(name, value)
	if err != nil {
		return "", c.record(err)
	}
	c.record(nil)
	return op.Name(), nil
}

// Add adds the element-wise sum of the nodes named left and right.
func (c *Context) Add(left, right, name string) (string, error) {
	return c.binary(graph.OpAdd, left, right, name)
}

// MatMul adds the matrix product of the nodes named left and right.
func (c *Context) MatMul(left, right, name string) (string, error) {
	return c.binary(graph.OpMatMul, left, right, name)
}

func (c *Context) binary(opType graph.OpType, left, right, name string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", c.record(err)
	}
	l, err := c.graph.Operation(left)
	if err != nil {
		return "", c.record(err)
	}
	r, err := c.graph.Operation(right)
	if err != nil {
		return "", c.record(err)
	}

	name = c.nodeName(name, opType)
	var op *graph.Operation
	switch opType {
	case graph.OpAdd:
		op, err = c.graph.Add(name, l, r)
	default:
		op, err = c.graph.MatMul(name, l, r)
	}
	if err != nil {
		return "", c.record(err)
	}
	c.record(nil)
	return op.Name(), nil
}

// Operation resolves a node by name.
func (c *Context) Operation(name string) (*graph.Operation, error) {
	if err := c.checkOpen(); err != nil {
		return nil, c.record(err)
	}
	op, err := c.graph.Operation(name)
	return op, c.record(err)
}

// Names lists every node name, sorted.
func (c *Context) Names() []string {
	if c.checkOpen() != nil {
		return nil
	}
	return c.graph.Registry().Names()
}

// LoadGraph reads a serialized graph from location and merges it into the
// graph. The location is a file path, a gs:// URL or an http(s):// URL, and
// the content is either the binary or the HCL graph format.
//
// If any imported name is already in use the whole import is rejected.
func (c *Context) LoadGraph(ctx context.Context, location string) error {
	if err := c.checkOpen(); err != nil {
		return c.record(err)
	}
	log := klog.FromContext(ctx).WithValues("session", c.id)

	reader, info := c.blobReader, blobs.BlobInfo{Key: location}
	if reader == nil {
		r, i, err := blobs.ForURL(location)
		if err != nil {
			return c.record(status.Errorf(status.Import, "loading graph: %w", err))
		}
		reader, info = r, i
	}

	startedAt := time.Now()
	data, err := reader.ReadAll(ctx, info)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c.record(status.Errorf(status.Import, "graph %q not found: %w", location, err))
		}
		return c.record(status.Errorf(status.Import, "reading graph %q: %w", location, err))
	}

	def, err := graphdef.Decode(info.Key, data)
	if err != nil {
		return c.record(status.Errorf(status.Import, "decoding graph %q: %w", location, err))
	}

	ops, err := c.graph.Import(def, c.alloc)
	if err != nil {
		return c.record(err)
	}

	log.Info("imported graph", "location", location, "bytes", len(data), "operations", len(ops), "duration", time.Since(startedAt))
	return c.record(nil)
}
