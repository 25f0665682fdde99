package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
)

// HandleOutput runs the barrier notification algorithm for a freshly
// filled slot: walk the slot's barrier-index entries, fire every barrier
// whose blocking set is fully filled, and emit a continuation task when
// the batch limit is hit.
func (e *Engine) HandleOutput(ctx context.Context, form url.Values) error {
	slotID := form.Get("slot_key")
	if slotID == "" {
		e.logger.Warn().Msg("Output task without slot_key dropped")
		return nil
	}
	cursor := form.Get("cursor")
	batch := formInt(form, "batch")

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.NotifyDuration)

	slot, err := e.store.GetSlot(slotID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug().Str("slot_id", slotID).Msg("Output task for missing slot dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if slot.Status != types.SlotFilled {
		e.logger.Warn().Str("slot_id", slotID).Msg("Output task for unfilled slot dropped")
		return nil
	}

	entries, next, err := e.store.ScanBarrierIndex(slotID, cursor, e.cfg.NotifyBatchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := e.notifyBarrier(ctx, entry); err != nil {
			return err
		}
	}

	if next != "" {
		metrics.NotifyContinuations.Inc()
		return queue.AddIgnoreExists(ctx, e.queue, outputTask(slotID, next, batch+1))
	}
	return nil
}

// notifyBarrier checks one indexed barrier and fires it when satisfied.
// Firing is a compare-and-set WAITING→FIRED; a fired barrier's trigger
// time is never touched again and no second trigger task is enqueued.
func (e *Engine) notifyBarrier(ctx context.Context, entry *types.BarrierIndexEntry) error {
	barrier, err := e.store.GetBarrier(entry.TargetPipelineID, entry.Purpose)
	if errors.Is(err, storage.ErrNotFound) {
		// Raced with cleanup; nothing left to trigger.
		return nil
	}
	if err != nil {
		return err
	}
	if barrier.Status == types.BarrierFired {
		return nil
	}

	for _, slotKey := range barrier.BlockingSlots {
		record, err := e.store.GetSlot(slotKey)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("blocking slot %s of barrier %s disappeared", slotKey, barrier.Key())
		}
		if err != nil {
			return err
		}
		if record.Status != types.SlotFilled {
			return nil
		}
	}

	now := e.now()
	fired := false
	err = e.store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetBarrier(entry.TargetPipelineID, entry.Purpose)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Status == types.BarrierFired {
			return nil
		}
		cur.Status = types.BarrierFired
		cur.TriggerTime = now
		fired = true
		return tx.PutBarrier(cur)
	})
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}

	metrics.BarriersFired.WithLabelValues(string(entry.Purpose)).Inc()
	e.publish(events.Event{
		Type:           events.EventBarrierFired,
		RootPipelineID: entry.RootPipelineID,
		PipelineID:     entry.TargetPipelineID,
		SlotID:         entry.SlotID,
		Message:        string(entry.Purpose) + " barrier fired",
	})

	var task *queue.Task
	switch entry.Purpose {
	case types.PurposeStart:
		target, err := e.store.GetPipeline(entry.TargetPipelineID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		task = runTask(target.ID, target.CurrentAttempt, now)
	case types.PurposeFinalize:
		task = finalizeTask(entry.TargetPipelineID)
	case types.PurposeAbort:
		task = abortTask(entry.TargetPipelineID)
	default:
		return fmt.Errorf("barrier %s has unknown purpose %q", barrier.Key(), entry.Purpose)
	}
	return queue.AddIgnoreExists(ctx, e.queue, task)
}
