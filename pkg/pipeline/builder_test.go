package pipeline

import (
	"testing"
	"time"

	"github.com/cuemby/cascade/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTime() time.Time {
	return time.Date(2024, 10, 13, 10, 30, 0, 0, time.UTC)
}

type builderSync struct{}

func (builderSync) Run(rc *RunContext) (any, error) { return nil, nil }

type builderNamedSync struct{}

func (builderNamedSync) Run(rc *RunContext) (any, error) { return nil, nil }
func (builderNamedSync) OutputNames() []string           { return []string{"extra"} }

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister("b.Sync", func() any { return builderSync{} })
	reg.MustRegister("b.Named", func() any { return builderNamedSync{} })
	return reg
}

func finalizeForTest(t *testing.T, b *Builder, parentOutputs map[string]string) []*ChildSpec {
	t.Helper()
	children, err := b.Finalize(parentOutputs, DefaultRetryOptions(), "default", "/_ah/pipeline")
	require.NoError(t, err)
	return children
}

func parentOutputsForTest(t *testing.T) map[string]string {
	t.Helper()
	parent, err := NewFuture(nil)
	require.NoError(t, err)
	return parent.OutputKeys()
}

// TestYieldOrder tests that children keep their yield order
func TestYieldOrder(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	for i := 0; i < 3; i++ {
		_, err := b.Yield(StageCall{ClassPath: "b.Sync", Args: []any{i}})
		require.NoError(t, err)
	}

	children := finalizeForTest(t, b, parentOutputsForTest(t))
	require.Len(t, children, 3)
	for i, child := range children {
		require.Len(t, child.Params.Args, 1)
		assert.Equal(t, types.ArgValue, child.Params.Args[0].Type)
		assert.Equal(t, int64(i), child.Params.Args[0].Value)
	}
}

// TestYieldUnknownClass tests the resolution failure poisoning the drain
func TestYieldUnknownClass(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	_, err := b.Yield(StageCall{ClassPath: "b.Missing"})
	require.Error(t, err)
	assert.Error(t, b.Err())

	// Every later yield fails with the recorded error.
	_, err = b.Yield(StageCall{ClassPath: "b.Sync"})
	assert.Error(t, err)
}

// TestSlotArgumentsBecomeDependencies tests dataflow capture
func TestSlotArgumentsBecomeDependencies(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	first, err := b.Yield(StageCall{ClassPath: "b.Named"})
	require.NoError(t, err)
	extra, err := first.Output("extra")
	require.NoError(t, err)

	second, err := b.Yield(StageCall{
		ClassPath: "b.Sync",
		Args:      []any{extra},
		Kwargs:    map[string]any{"whole": first},
	})
	require.NoError(t, err)
	_ = second

	children := finalizeForTest(t, b, parentOutputsForTest(t))
	blocking := children[1].BlockingSlots()
	assert.ElementsMatch(t, []string{extra.Key(), first.Default().Key()}, blocking)
}

// TestAfterScope tests After adding dependencies to nested yields only
func TestAfterScope(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	first, err := b.Yield(StageCall{ClassPath: "b.Sync"})
	require.NoError(t, err)
	second, err := b.Yield(StageCall{ClassPath: "b.Sync"})
	require.NoError(t, err)

	b.After([]*Future{first, second}, func() {
		_, _ = b.Yield(StageCall{ClassPath: "b.Sync"})
	})
	_, err = b.Yield(StageCall{ClassPath: "b.Sync"})
	require.NoError(t, err)
	require.NoError(t, b.Err())

	children := finalizeForTest(t, b, parentOutputsForTest(t))
	require.Len(t, children, 4)

	inScope := children[2].BlockingSlots()
	assert.ElementsMatch(t, []string{first.Default().Key(), second.Default().Key()}, inScope)

	afterScope := children[3].BlockingSlots()
	assert.Empty(t, afterScope)
}

// TestInOrderChain tests the sequential dependency chain
func TestInOrderChain(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	b.InOrder(func() {
		for i := 0; i < 3; i++ {
			_, _ = b.Yield(StageCall{ClassPath: "b.Sync"})
		}
	})
	require.NoError(t, b.Err())

	parentOutputs := parentOutputsForTest(t)
	children := finalizeForTest(t, b, parentOutputs)
	require.Len(t, children, 3)

	assert.Empty(t, children[0].BlockingSlots())
	assert.Equal(t, []string{children[0].Future.Default().Key()}, children[1].BlockingSlots())
	// The last child inherits the parent's default, but its chain link
	// was captured at yield time.
	assert.Equal(t, []string{children[1].Future.Default().Key()}, children[2].BlockingSlots())
}

// TestInOrderNesting tests the authoring error
func TestInOrderNesting(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	b.InOrder(func() {
		b.InOrder(func() {})
	})

	var setup *SetupError
	assert.ErrorAs(t, b.Err(), &setup)
}

// TestAfterInsideInOrder tests combining both scopes
func TestAfterInsideInOrder(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	gate, err := b.Yield(StageCall{ClassPath: "b.Sync"})
	require.NoError(t, err)

	b.InOrder(func() {
		_, _ = b.Yield(StageCall{ClassPath: "b.Sync"})
		b.After([]*Future{gate}, func() {
			_, _ = b.Yield(StageCall{ClassPath: "b.Sync"})
		})
	})
	require.NoError(t, b.Err())

	children := finalizeForTest(t, b, parentOutputsForTest(t))
	require.Len(t, children, 3)
	assert.ElementsMatch(t,
		[]string{gate.Default().Key(), children[1].Future.Default().Key()},
		children[2].BlockingSlots())
}

// TestLastChildInherits tests the inheritance applied at finalize
func TestLastChildInherits(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	_, err := b.Yield(StageCall{ClassPath: "b.Sync"})
	require.NoError(t, err)
	_, err = b.Yield(StageCall{ClassPath: "b.Sync"})
	require.NoError(t, err)

	parentOutputs := parentOutputsForTest(t)
	children := finalizeForTest(t, b, parentOutputs)

	first := children[0].Future.Default()
	assert.False(t, first.External())

	last := children[1].Future.Default()
	assert.True(t, last.External())
	assert.Equal(t, parentOutputs["default"], last.Key())
	assert.Equal(t, parentOutputs["default"], children[1].Params.OutputSlots["default"])
}

// TestBuildParamsSerializationFailure tests fail-fast on bad values
func TestBuildParamsSerializationFailure(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	_, err := b.Yield(StageCall{ClassPath: "b.Sync", Args: []any{make(chan int)}})
	require.NoError(t, err)

	_, err = b.Finalize(parentOutputsForTest(t), DefaultRetryOptions(), "default", "/_ah/pipeline")
	var serialization *SerializationError
	assert.ErrorAs(t, err, &serialization)
}

// TestRegistryKindValidation tests exactly-one-kind enforcement
func TestRegistryKindValidation(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register("bad.NoKind", func() any { return struct{}{} })
	assert.Error(t, err)

	require.NoError(t, reg.Register("ok.Sync", func() any { return builderSync{} }))
	err = reg.Register("ok.Sync", func() any { return builderSync{} })
	assert.Error(t, err, "duplicate registration must fail")
}
