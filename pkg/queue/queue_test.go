package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryDedupe tests named-task de-duplication
func TestMemoryDedupe(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.Add(ctx, &Task{Name: "t-1", Path: PathRun}))
	err := q.Add(ctx, &Task{Name: "t-1", Path: PathRun})
	assert.ErrorIs(t, err, ErrTaskExists)
	assert.Equal(t, 1, q.Len())

	// Unnamed tasks never collide.
	require.NoError(t, q.Add(ctx, &Task{Path: PathOutput}))
	require.NoError(t, q.Add(ctx, &Task{Path: PathOutput}))
	assert.Equal(t, 3, q.Len())
}

// TestAddIgnoreExists tests the tolerant enqueue helper
func TestAddIgnoreExists(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, AddIgnoreExists(ctx, q, &Task{Name: "t-1", Path: PathRun}))
	require.NoError(t, AddIgnoreExists(ctx, q, &Task{Name: "t-1", Path: PathRun}))
	assert.Equal(t, 1, q.Len())
}

// TestMemoryPopOrder tests ETA-then-FIFO ordering
func TestMemoryPopOrder(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 10, 13, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Add(ctx, &Task{Name: "late", ETA: base.Add(time.Minute)}))
	require.NoError(t, q.Add(ctx, &Task{Name: "first"}))
	require.NoError(t, q.Add(ctx, &Task{Name: "second"}))
	require.NoError(t, q.Add(ctx, &Task{Name: "early", ETA: base}))

	var names []string
	for task := q.Pop(); task != nil; task = q.Pop() {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{"first", "second", "early", "late"}, names)
}

// TestMemoryNextETA tests the earliest-ETA view
func TestMemoryNextETA(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	assert.True(t, q.NextETA().IsZero())

	base := time.Date(2024, 10, 13, 10, 0, 0, 0, time.UTC)
	require.NoError(t, q.Add(ctx, &Task{Name: "a", ETA: base.Add(time.Hour)}))
	require.NoError(t, q.Add(ctx, &Task{Name: "b", ETA: base}))
	assert.True(t, q.NextETA().Equal(base))
}

// TestTaskParamsCopied tests that Add snapshots the task
func TestTaskParamsCopied(t *testing.T) {
	q := NewMemory()
	task := &Task{Name: "t-1", Path: PathRun}
	require.NoError(t, q.Add(context.Background(), task))

	task.Path = "mutated"
	popped := q.Pop()
	require.NotNil(t, popped)
	assert.Equal(t, PathRun, popped.Path)
}
