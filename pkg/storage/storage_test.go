package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/cascade/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestPipelineCRUD tests pipeline record round-trips
func TestPipelineCRUD(t *testing.T) {
	store := newTestStore(t)

	record := &types.PipelineRecord{
		ID:             "p-1",
		ClassPath:      "demo.Echo",
		RootPipelineID: "p-1",
		IsRootPipeline: true,
		Status:         types.PipelineWaiting,
		MaxAttempts:    3,
	}
	require.NoError(t, store.Atomically(func(tx Tx) error {
		return tx.PutPipeline(record)
	}))

	got, err := store.GetPipeline("p-1")
	require.NoError(t, err)
	assert.Equal(t, record.ClassPath, got.ClassPath)
	assert.Equal(t, types.PipelineWaiting, got.Status)
	assert.True(t, got.IsRootPipeline)

	_, err = store.GetPipeline("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Atomically(func(tx Tx) error {
		return tx.DeletePipeline("p-1")
	}))
	_, err = store.GetPipeline("p-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestAtomicallyRollsBack tests that a failing transaction writes nothing
func TestAtomicallyRollsBack(t *testing.T) {
	store := newTestStore(t)

	err := store.Atomically(func(tx Tx) error {
		if err := tx.PutPipeline(&types.PipelineRecord{ID: "p-1"}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	_, err = store.GetPipeline("p-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestBarrierKeying tests the (target, purpose) composite key
func TestBarrierKeying(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Atomically(func(tx Tx) error {
		for _, purpose := range []types.BarrierPurpose{types.PurposeStart, types.PurposeFinalize} {
			barrier := &types.BarrierRecord{
				TargetPipelineID: "p-1",
				Purpose:          purpose,
				RootPipelineID:   "root",
				Status:           types.BarrierWaiting,
			}
			if err := tx.PutBarrier(barrier); err != nil {
				return err
			}
		}
		return nil
	}))

	start, err := store.GetBarrier("p-1", types.PurposeStart)
	require.NoError(t, err)
	assert.Equal(t, types.PurposeStart, start.Purpose)

	finalize, err := store.GetBarrier("p-1", types.PurposeFinalize)
	require.NoError(t, err)
	assert.Equal(t, types.PurposeFinalize, finalize.Purpose)

	_, err = store.GetBarrier("p-1", types.PurposeAbort)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestScanBarrierIndex tests prefix scans and cursor continuation
func TestScanBarrierIndex(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Atomically(func(tx Tx) error {
		for i := 0; i < 5; i++ {
			entry := &types.BarrierIndexEntry{
				SlotID:           "slot-a",
				TargetPipelineID: fmt.Sprintf("target-%d", i),
				Purpose:          types.PurposeStart,
				RootPipelineID:   "root",
			}
			if err := tx.PutBarrierIndex(entry); err != nil {
				return err
			}
		}
		// An entry for a different slot must not match the prefix.
		other := &types.BarrierIndexEntry{
			SlotID:           "slot-b",
			TargetPipelineID: "target-x",
			Purpose:          types.PurposeStart,
			RootPipelineID:   "root",
		}
		return tx.PutBarrierIndex(other)
	}))

	var collected []*types.BarrierIndexEntry
	cursor := ""
	pages := 0
	for {
		entries, next, err := store.ScanBarrierIndex("slot-a", cursor, 2)
		require.NoError(t, err)
		collected = append(collected, entries...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	assert.Len(t, collected, 5)
	assert.Equal(t, 3, pages)
	for _, entry := range collected {
		assert.Equal(t, "slot-a", entry.SlotID)
	}
}

// TestListRootPipelines tests root filtering and pagination
func TestListRootPipelines(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Atomically(func(tx Tx) error {
		for i := 0; i < 4; i++ {
			class := "demo.A"
			if i%2 == 1 {
				class = "demo.B"
			}
			record := &types.PipelineRecord{
				ID:             fmt.Sprintf("root-%d", i),
				ClassPath:      class,
				RootPipelineID: fmt.Sprintf("root-%d", i),
				IsRootPipeline: true,
				Status:         types.PipelineRun,
			}
			if err := tx.PutPipeline(record); err != nil {
				return err
			}
		}
		child := &types.PipelineRecord{
			ID:             "child-1",
			ClassPath:      "demo.A",
			RootPipelineID: "root-0",
			Status:         types.PipelineWaiting,
		}
		return tx.PutPipeline(child)
	}))

	all, next, err := store.ListRootPipelines("", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Empty(t, next)

	filtered, _, err := store.ListRootPipelines("demo.B", "", 10)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	page, next, err := store.ListRootPipelines("", "", 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	require.NotEmpty(t, next)

	rest, next, err := store.ListRootPipelines("", next, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Empty(t, next)
}

// TestListByRoot tests the ownership closure views
func TestListByRoot(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Atomically(func(tx Tx) error {
		for i, root := range []string{"root-a", "root-a", "root-b"} {
			slot := &types.SlotRecord{
				ID:             fmt.Sprintf("slot-%d", i),
				RootPipelineID: root,
				Status:         types.SlotWaiting,
			}
			if err := tx.PutSlot(slot); err != nil {
				return err
			}
		}
		status := &types.StatusRecord{
			PipelineID:     "p-1",
			RootPipelineID: "root-a",
			Message:        "working",
			StatusTime:     time.Now(),
		}
		return tx.PutStatus(status)
	}))

	slots, err := store.ListSlotsByRoot("root-a")
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	statuses, err := store.ListStatusByRoot("root-a")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "working", statuses[0].Message)

	none, err := store.ListSlotsByRoot("root-c")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestSlotUpsert tests the fill transition surviving re-puts
func TestSlotUpsert(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Atomically(func(tx Tx) error {
		return tx.PutSlot(&types.SlotRecord{
			ID:             "slot-1",
			RootPipelineID: "root",
			Status:         types.SlotWaiting,
		})
	}))

	require.NoError(t, store.Atomically(func(tx Tx) error {
		slot, err := tx.GetSlot("slot-1")
		if err != nil {
			return err
		}
		slot.Status = types.SlotFilled
		slot.Filler = "p-1"
		slot.FillTime = time.Now()
		return tx.PutSlot(slot)
	}))

	got, err := store.GetSlot("slot-1")
	require.NoError(t, err)
	assert.Equal(t, types.SlotFilled, got.Status)
	assert.Equal(t, "p-1", got.Filler)
}
