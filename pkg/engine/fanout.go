package engine

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
)

// HandleFanout enqueues the first run of the listed children of a
// generator. Only children whose START barrier had no blocking slots are
// listed; the rest start when their barriers fire.
func (e *Engine) HandleFanout(ctx context.Context, form url.Values) error {
	parentID := form.Get("parent_key")
	if parentID == "" {
		e.logger.Warn().Msg("Fanout task without parent_key dropped")
		return nil
	}

	parent, err := e.store.GetPipeline(parentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, raw := range form["child_indexes"] {
		index, err := strconv.Atoi(raw)
		if err != nil || index < 0 || index >= len(parent.FannedOut) {
			e.logger.Warn().
				Str("pipeline_id", parentID).
				Str("child_index", raw).
				Msg("Fanout task with bad child index")
			continue
		}
		childID := parent.FannedOut[index]
		if err := queue.AddIgnoreExists(ctx, e.queue, runTask(childID, 0, e.now())); err != nil {
			return err
		}
	}
	return nil
}
