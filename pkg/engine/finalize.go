package engine

import (
	"context"
	"errors"
	"net/url"

	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/log"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
)

// HandleFinalized runs after a stage's finalize barrier fires: the
// Finalized hook is invoked and the stage transitions to DONE.
func (e *Engine) HandleFinalized(ctx context.Context, form url.Values) error {
	pipelineID := form.Get("pipeline_key")
	if pipelineID == "" {
		e.logger.Warn().Msg("Finalized task without pipeline_key dropped")
		return nil
	}

	p, err := e.store.GetPipeline(pipelineID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		return nil
	}

	params, err := e.loadParams(ctx, p)
	if err != nil {
		return err
	}
	stage, err := e.registry.New(params.ClassPath)
	if err != nil {
		return err
	}

	if finalizer, ok := stage.(pipeline.Finalizer); ok {
		outputs, err := e.resolvedOutputs(ctx, params)
		if err != nil {
			return err
		}
		fc := pipeline.NewFinalizeContext(pipeline.FinalizeContextConfig{
			Ctx:        ctx,
			Logger:     log.Pipeline(p.RootPipelineID, p.ID),
			PipelineID: p.ID,
			WasAborted: false,
			Outputs:    outputs,
		})
		if err := finalizer.Finalized(fc); err != nil {
			return err
		}
	}

	now := e.now()
	done := false
	err = e.store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetPipeline(p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return nil
		}
		cur.Status = types.PipelineDone
		cur.FinalizedTime = now
		done = true
		return tx.PutPipeline(cur)
	})
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	metrics.PipelinesFinalized.WithLabelValues(string(types.PipelineDone)).Inc()
	e.publish(events.Event{
		Type:           events.EventPipelineDone,
		RootPipelineID: p.RootPipelineID,
		PipelineID:     p.ID,
		Message:        "pipeline done",
	})
	if p.IsRootPipeline {
		e.logger.Info().Str("pipeline_id", p.ID).Msg("Workflow completed")
	}
	return nil
}
