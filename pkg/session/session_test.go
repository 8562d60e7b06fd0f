package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/justinsb/kgraph/pkg/status"
	"github.com/justinsb/kgraph/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func newTestContext(t *testing.T, opts ...Option) (*Context, *tensor.Allocator) {
	t.Helper()
	alloc := tensor.NewAllocator()
	c, err := New(context.Background(), append([]Option{WithAllocator(alloc)}, opts...)...)
	require.NoError(t, err)
	assert.Equal(t, Ready, c.State())
	return c, alloc
}

// buildAddOnes builds y = x + [1, 1, 1].
func buildAddOnes(t *testing.T, c *Context) {
	t.Helper()
	_, err := c.Placeholder("x", tensor.Int32)
	require.NoError(t, err)
	_, err = c.Constant([]float64{1, 1, 1}, []int64{1, 3}, "ones", tensor.Int32)
	require.NoError(t, err)
	_, err = c.Add("x", "ones", "y")
	require.NoError(t, err)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	c, alloc := newTestContext(t)
	buildAddOnes(t, c)

	require.NoError(t, c.FeedInput("x", []float64{2, 3, 4}, nil, tensor.Int32))
	require.NoError(t, c.SetOutputs("y"))
	assert.Equal(t, Configured, c.State())
	require.NoError(t, c.Run(ctx))
	assert.True(t, c.Status().OK())

	y, err := c.Output(0)
	require.NoError(t, err)
	values, err := y.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 4, 5}, values)
	assert.Equal(t, []int64{1, 3}, y.Shape())

	first, err := c.ReadInt32(0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), first)

	byName, err := c.OutputByName("y")
	require.NoError(t, err)
	assert.Same(t, y, byName)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, alloc.Live())
}

func TestConstantRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContext(t)
	defer c.Close()

	name, err := c.Constant([]float64{1, 2, 3, 4, 5, 6}, []int64{2, 3}, "c1", tensor.Float64)
	require.NoError(t, err)
	assert.Equal(t, "c1", name)

	require.NoError(t, c.SetOutputs("c1"))
	require.NoError(t, c.Run(ctx))

	out, err := c.Output(0)
	require.NoError(t, err)
	values, err := out.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, values)
	assert.Equal(t, []int64{2, 3}, out.Shape())

	v, err := c.ReadFloat64(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	_, err = c.ReadInt32(0)
	assert.True(t, errors.Is(err, status.InvalidArgument))
}

func TestMatMul(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContext(t)
	defer c.Close()

	_, err := c.Placeholder("x", tensor.Float64)
	require.NoError(t, err)
	_, err = c.Constant([]float64{1, 2, 3, 4, 5, 6}, []int64{3, 2}, "w", tensor.Float64)
	require.NoError(t, err)
	_, err = c.MatMul("x", "w", "xw")
	require.NoError(t, err)

	require.NoError(t, c.FeedInput("x", []float64{1, 1, 1}, nil, tensor.Float64))
	require.NoError(t, c.SetOutputs("xw"))
	require.NoError(t, c.Run(ctx))

	out, err := c.Output(0)
	require.NoError(t, err)
	values, err := out.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 12}, values)
	assert.Equal(t, []int64{1, 2}, out.Shape())
}

func TestRegistryResolvesEveryName(t *testing.T) {
	c, _ := newTestContext(t)
	defer c.Close()

	buildAddOnes(t, c)
	_, err := c.MatMul("y", "ones", "z")
	require.NoError(t, err)

	for _, name := range []string{"x", "ones", "y", "z"} {
		op, err := c.Operation(name)
		require.NoError(t, err)
		assert.Equal(t, name, op.Name())
	}
	assert.Equal(t, []string{"ones", "x", "y", "z"}, c.Names())
}

func TestNameNotFoundDoesNotMutate(t *testing.T) {
	c, _ := newTestContext(t)
	defer c.Close()
	buildAddOnes(t, c)
	before := c.Names()

	_, err := c.Add("x", "missing", "z")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.NameNotFound))
	assert.Equal(t, codes.NotFound, c.Status().Code)
	assert.Equal(t, status.NameNotFound, c.Status().Kind)

	_, err = c.MatMul("missing", "x", "z")
	assert.True(t, errors.Is(err, status.NameNotFound))

	assert.Equal(t, before, c.Names())
	assert.Len(t, c.Graph().Operations(), len(before))
}

func TestNameCollisionIsAtomic(t *testing.T) {
	c, alloc := newTestContext(t)
	defer c.Close()
	buildAddOnes(t, c)
	before := c.Names()
	live := alloc.Live()

	_, err := c.Placeholder("y", tensor.Float64)
	assert.True(t, errors.Is(err, status.NameCollision))
	assert.False(t, c.Status().OK())

	_, err = c.Constant([]float64{1}, []int64{1}, "x", tensor.Int32)
	assert.True(t, errors.Is(err, status.NameCollision))

	_, err = c.Add("x", "ones", "ones")
	assert.True(t, errors.Is(err, status.NameCollision))

	assert.Equal(t, before, c.Names())
	assert.Equal(t, live, alloc.Live(), "failed constant must not leak its tensor")

	op, err := c.Operation("y")
	require.NoError(t, err)
	assert.Equal(t, "Add", op.Type().String())
}

func TestUniqueNames(t *testing.T) {
	c, _ := newTestContext(t, WithUniqueNames())
	defer c.Close()

	a, err := c.Placeholder("x", tensor.Int32)
	require.NoError(t, err)
	b, err := c.Placeholder("x", tensor.Int32)
	require.NoError(t, err)
	sum, err := c.Add(a, b, "")
	require.NoError(t, err)
	sum2, err := c.Add(a, b, "")
	require.NoError(t, err)

	assert.Equal(t, "x", a)
	assert.Equal(t, "x_1", b)
	assert.Equal(t, "Add", sum)
	assert.Equal(t, "Add_1", sum2)
}

func TestConstantShapeMismatch(t *testing.T) {
	c, alloc := newTestContext(t)
	defer c.Close()

	_, err := c.Constant([]float64{1, 2, 3}, []int64{2, 2}, "c", tensor.Float64)
	assert.True(t, errors.Is(err, status.ShapeMismatch))
	assert.Equal(t, status.ShapeMismatch, c.Status().Kind)
	assert.Empty(t, c.Names())
	assert.Equal(t, 0, alloc.Live())

	_, err = c.Constant([]float64{1}, []int64{1}, "c", tensor.InvalidDType)
	assert.True(t, errors.Is(err, status.InvalidArgument))
}

func TestRerunWithChangedFeed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContext(t)
	defer c.Close()
	buildAddOnes(t, c)
	require.NoError(t, c.SetOutputs("y"))

	require.NoError(t, c.FeedInput("x", []float64{2, 3, 4}, nil, tensor.Int32))
	require.NoError(t, c.Run(ctx))
	first, err := c.Output(0)
	require.NoError(t, err)
	firstValues, err := first.Int32s()
	require.NoError(t, err)

	require.NoError(t, c.FeedInput("x", []float64{10, 20, 30}, nil, tensor.Int32))
	require.NoError(t, c.Run(ctx))
	assert.True(t, first.Released(), "results of the previous run are released")

	second, err := c.Output(0)
	require.NoError(t, err)
	secondValues, err := second.Int32s()
	require.NoError(t, err)

	assert.Equal(t, []int32{3, 4, 5}, firstValues)
	assert.Equal(t, []int32{11, 21, 31}, secondValues)

	// Same feed again gives the same answer.
	require.NoError(t, c.Run(ctx))
	third, err := c.Output(0)
	require.NoError(t, err)
	thirdValues, err := third.Int32s()
	require.NoError(t, err)
	assert.Equal(t, secondValues, thirdValues)
}

func TestReplacingSetsReleasesOnce(t *testing.T) {
	ctx := context.Background()
	c, alloc := newTestContext(t)
	buildAddOnes(t, c)
	require.Equal(t, 1, alloc.Live())

	feed, err := alloc.FromInt32s([]int32{2, 3, 4}, 1, 3)
	require.NoError(t, err)
	require.NoError(t, c.SetInputs([]Feed{{Name: "x", Value: feed}}))
	require.NoError(t, c.SetOutputs("y"))
	require.NoError(t, c.Run(ctx))
	result, err := c.Output(0)
	require.NoError(t, err)
	// ones, the feed and one result; the intermediate sum was released.
	assert.Equal(t, 3, alloc.Live())

	replacement, err := alloc.FromInt32s([]int32{5, 6, 7}, 1, 3)
	require.NoError(t, err)
	require.NoError(t, c.SetInputs([]Feed{{Name: "x", Value: replacement}}))
	assert.True(t, feed.Released())
	assert.ErrorIs(t, feed.Release(), tensor.ErrReleased)
	assert.Equal(t, 3, alloc.Live())

	require.NoError(t, c.SetOutputs("y"))
	assert.True(t, result.Released())
	assert.ErrorIs(t, result.Release(), tensor.ErrReleased)
	assert.Equal(t, 2, alloc.Live())

	_, err = c.Output(0)
	assert.True(t, errors.Is(err, status.Lifecycle), "no run since the fetch set changed")

	require.NoError(t, c.Close())
	assert.Equal(t, 0, alloc.Live())
	assert.Equal(t, alloc.Allocated(), alloc.Released())
}

func TestSetInputsTakesOwnershipOnFailure(t *testing.T) {
	c, alloc := newTestContext(t)
	defer c.Close()
	buildAddOnes(t, c)

	kept, err := alloc.FromInt32s([]int32{1, 2, 3}, 1, 3)
	require.NoError(t, err)
	require.NoError(t, c.SetInputs([]Feed{{Name: "x", Value: kept}}))

	rejected, err := alloc.FromInt32s([]int32{1, 2, 3}, 1, 3)
	require.NoError(t, err)
	err = c.SetInputs([]Feed{{Name: "nope", Value: rejected}})
	assert.True(t, errors.Is(err, status.NameNotFound))
	assert.True(t, rejected.Released())
	assert.False(t, kept.Released(), "failed SetInputs keeps the previous feeds")

	twice, err := alloc.FromInt32s([]int32{1, 2, 3}, 1, 3)
	require.NoError(t, err)
	again, err := alloc.FromInt32s([]int32{1, 2, 3}, 1, 3)
	require.NoError(t, err)
	err = c.SetInputs([]Feed{{Name: "x", Value: twice}, {Name: "x", Value: again}})
	assert.True(t, errors.Is(err, status.InvalidArgument))
	assert.True(t, twice.Released())
	assert.True(t, again.Released())
}

func TestSetInputsRefeedsOwnedTensor(t *testing.T) {
	ctx := context.Background()
	c, alloc := newTestContext(t)
	buildAddOnes(t, c)

	feed, err := alloc.FromInt32s([]int32{2, 3, 4}, 1, 3)
	require.NoError(t, err)
	require.NoError(t, c.SetInputs([]Feed{{Name: "x", Value: feed}}))

	// Feeding the tensor the context already holds keeps it alive.
	require.NoError(t, c.SetInputs([]Feed{{Name: "x", Value: feed}}))
	assert.False(t, feed.Released())

	// A rejected set does not release tensors the current set still holds.
	err = c.SetInputs([]Feed{{Name: "x", Value: feed}, {Name: "ones", Value: feed}})
	assert.True(t, errors.Is(err, status.InvalidArgument))
	assert.False(t, feed.Released())

	require.NoError(t, c.SetOutputs("y"))
	require.NoError(t, c.Run(ctx))
	values, err := c.ReadInt32(0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), values)

	require.NoError(t, c.Close())
	assert.True(t, feed.Released())
	assert.Equal(t, 0, alloc.Live())
}

func TestOversizedShapes(t *testing.T) {
	ctx := context.Background()
	c, alloc := newTestContext(t)
	defer c.Close()

	_, err := c.Constant(nil, []int64{1 << 32, 1 << 32}, "c", tensor.Float64)
	assert.True(t, errors.Is(err, status.ShapeMismatch))
	assert.Empty(t, c.Names())

	path := filepath.Join(t.TempDir(), "huge.hcl")
	src := `
node "Const" "c" {
  shape = [3, 4611686018427387904]
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	err = c.LoadGraph(ctx, path)
	assert.True(t, errors.Is(err, status.Import))
	assert.True(t, errors.Is(err, status.ShapeMismatch))
	assert.Empty(t, c.Names())
	assert.Equal(t, 0, alloc.Live())
}

func TestRunWithoutOutputs(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContext(t)
	defer c.Close()
	buildAddOnes(t, c)

	require.NoError(t, c.Run(ctx))
	assert.True(t, c.Status().OK())
	assert.Empty(t, c.Outputs())

	_, err := c.Output(0)
	assert.True(t, errors.Is(err, status.InvalidArgument))
}

func TestRunTargets(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContext(t)
	defer c.Close()
	buildAddOnes(t, c)

	require.NoError(t, c.SetTargets("y"))
	err := c.Run(ctx)
	assert.True(t, errors.Is(err, status.Execution), "target y needs x to be fed")

	require.NoError(t, c.FeedInput("x", []float64{1, 2, 3}, nil, tensor.Int32))
	require.NoError(t, c.Run(ctx))
}

func TestFailedRunPoisonsOutputs(t *testing.T) {
	ctx := context.Background()
	c, alloc := newTestContext(t)
	defer c.Close()
	buildAddOnes(t, c)
	require.NoError(t, c.SetOutputs("y"))

	require.NoError(t, c.FeedInput("x", []float64{2, 3, 4}, nil, tensor.Int32))
	require.NoError(t, c.Run(ctx))
	previous, err := c.Output(0)
	require.NoError(t, err)

	// int32 + float64 is rejected by the runtime.
	_, err = c.Placeholder("f", tensor.Float64)
	require.NoError(t, err)
	_, err = c.Add("f", "ones", "bad")
	require.NoError(t, err)
	require.NoError(t, c.SetOutputs("bad"))
	require.NoError(t, c.FeedInput("f", []float64{2, 3, 4}, nil, tensor.Float64))
	assert.True(t, previous.Released())

	err = c.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.Execution))
	assert.Equal(t, codes.Internal, c.Status().Code)
	assert.ErrorIs(t, c.RunErr(), status.Execution)

	_, err = c.Output(0)
	assert.True(t, errors.Is(err, status.Execution))
	_, err = c.ReadFloat64(0)
	assert.True(t, errors.Is(err, status.Execution))

	// ones and the feed.
	assert.Equal(t, 2, alloc.Live())
}

func TestCallsAfterClose(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContext(t)
	buildAddOnes(t, c)
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())

	checks := map[string]error{}
	_, checks["Placeholder"] = c.Placeholder("p", tensor.Int32)
	_, checks["Constant"] = c.Constant([]float64{1}, []int64{1}, "k", tensor.Int32)
	_, checks["Add"] = c.Add("x", "ones", "z")
	_, checks["MatMul"] = c.MatMul("x", "ones", "z")
	checks["FeedInput"] = c.FeedInput("x", []float64{1, 2, 3}, nil, tensor.Int32)
	checks["SetInputs"] = c.SetInputs(nil)
	checks["SetOutputs"] = c.SetOutputs("y")
	checks["SetTargets"] = c.SetTargets("y")
	checks["Run"] = c.Run(ctx)
	_, checks["Output"] = c.Output(0)
	_, checks["OutputByName"] = c.OutputByName("y")
	_, checks["ReadInt32"] = c.ReadInt32(0)
	checks["LoadGraph"] = c.LoadGraph(ctx, "graph.hcl")
	checks["Close"] = c.Close()

	for name, err := range checks {
		assert.Truef(t, errors.Is(err, status.Lifecycle), "%s after Close: got %v", name, err)
	}
	assert.Equal(t, codes.FailedPrecondition, c.Status().Code)
	assert.Nil(t, c.Names())
}

func TestLoadGraph(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "add.hcl")
	src := `
node "Placeholder" "x" {
  dtype = "int32"
}
node "Const" "ones" {
  dtype = "int32"
  shape = [1, 3]
}
node "Add" "y" {
  inputs = ["x", "ones"]
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	c, alloc := newTestContext(t)
	require.NoError(t, c.LoadGraph(ctx, path))
	assert.Equal(t, []string{"ones", "x", "y"}, c.Names())

	require.NoError(t, c.FeedInput("x", []float64{2, 3, 4}, nil, tensor.Int32))
	require.NoError(t, c.SetOutputs("y"))
	require.NoError(t, c.Run(ctx))
	y, err := c.Output(0)
	require.NoError(t, err)
	values, err := y.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 4, 5}, values)

	// Loading the same graph again collides and changes nothing.
	err = c.LoadGraph(ctx, path)
	assert.True(t, errors.Is(err, status.NameCollision))
	assert.Equal(t, []string{"ones", "x", "y"}, c.Names())

	err = c.LoadGraph(ctx, filepath.Join(dir, "missing.hcl"))
	assert.True(t, errors.Is(err, status.Import))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, codes.DataLoss, c.Status().Code)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, alloc.Live())
}
