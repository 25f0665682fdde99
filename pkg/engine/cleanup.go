package engine

import (
	"context"
	"net/url"

	"github.com/cuemby/cascade/pkg/codec"
	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/storage"
)

// HandleCleanup deletes the entire record closure under a root: every
// pipeline, slot, barrier, barrier index and status record whose
// root_pipeline_id points at it, plus any offloaded payload blobs.
func (e *Engine) HandleCleanup(ctx context.Context, form url.Values) error {
	rootID := form.Get("root_pipeline_key")
	if rootID == "" {
		e.logger.Warn().Msg("Cleanup task without root_pipeline_key dropped")
		return nil
	}

	pipelines, err := e.store.ListPipelinesByRoot(rootID)
	if err != nil {
		return err
	}
	slots, err := e.store.ListSlotsByRoot(rootID)
	if err != nil {
		return err
	}
	barriers, err := e.store.ListBarriersByRoot(rootID)
	if err != nil {
		return err
	}
	indexKeys, err := e.store.ListBarrierIndexKeysByRoot(rootID)
	if err != nil {
		return err
	}
	statuses, err := e.store.ListStatusByRoot(rootID)
	if err != nil {
		return err
	}

	var blobs []string
	collectBlob := func(p codec.Payload) {
		if p.Blob != nil {
			blobs = append(blobs, *p.Blob)
		}
	}
	for _, record := range pipelines {
		collectBlob(record.Params)
	}
	for _, record := range slots {
		collectBlob(record.Value)
	}

	err = e.store.Atomically(func(tx storage.Tx) error {
		for _, record := range pipelines {
			if err := tx.DeletePipeline(record.ID); err != nil {
				return err
			}
		}
		for _, record := range slots {
			if err := tx.DeleteSlot(record.ID); err != nil {
				return err
			}
		}
		for _, record := range barriers {
			if err := tx.DeleteBarrier(record.TargetPipelineID, record.Purpose); err != nil {
				return err
			}
		}
		for _, key := range indexKeys {
			if err := tx.DeleteBarrierIndex(key); err != nil {
				return err
			}
		}
		for _, record := range statuses {
			if err := tx.DeleteStatus(record.PipelineID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Blob deletion is best effort; orphaned blobs are harmless.
	for _, handle := range blobs {
		if e.blobs == nil {
			break
		}
		if err := e.blobs.Delete(ctx, handle); err != nil {
			e.logger.Warn().Err(err).Str("blob_handle", handle).Msg("Failed to delete blob")
		}
	}

	if len(pipelines) > 0 {
		metrics.CleanupsTotal.Inc()
		e.publish(events.Event{
			Type:           events.EventCleanupDone,
			RootPipelineID: rootID,
			PipelineID:     rootID,
			Message:        "workflow cleaned up",
		})
		e.logger.Info().
			Str("pipeline_id", rootID).
			Int("pipelines", len(pipelines)).
			Int("slots", len(slots)).
			Msg("Workflow records deleted")
	}
	return nil
}
