package engine

import (
	"context"
	"errors"
	"net/url"

	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/log"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
)

// AbortRoot requests a cooperative abort of a whole workflow.
func (e *Engine) AbortRoot(ctx context.Context, rootID, message string) error {
	root, err := e.store.GetPipeline(rootID)
	if err != nil {
		return err
	}
	if !root.IsRootPipeline {
		return pipeline.Setupf("pipeline %s is not a root", rootID)
	}
	if root.Status.Terminal() {
		return nil
	}
	return e.requestAbort(ctx, rootID, message)
}

// requestAbort sets the root's abort flag and kicks off the fan-out
// sweep. Idempotent: the flag is sticky and the sweep task is named.
func (e *Engine) requestAbort(ctx context.Context, rootID, message string) error {
	requested := false
	err := e.store.Atomically(func(tx storage.Tx) error {
		root, err := tx.GetPipeline(rootID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if root.Status.Terminal() {
			return nil
		}
		if !root.AbortRequested {
			root.AbortRequested = true
			root.AbortMessage = message
			requested = true
			return tx.PutPipeline(root)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := queue.AddIgnoreExists(ctx, e.queue, fanoutAbortTask(rootID, "", 0)); err != nil {
		return err
	}
	if requested {
		metrics.AbortsRequested.Inc()
		e.publish(events.Event{
			Type:           events.EventAbortRequested,
			RootPipelineID: rootID,
			PipelineID:     rootID,
			Message:        message,
		})
		e.logger.Info().
			Str("pipeline_id", rootID).
			Str("abort_message", message).
			Msg("Workflow abort requested")
	}
	return nil
}

// HandleFanoutAbort sweeps every pipeline under a root in batches,
// emitting one abort task per pipeline and a continuation when more
// remain.
func (e *Engine) HandleFanoutAbort(ctx context.Context, form url.Values) error {
	rootID := form.Get("root_pipeline_key")
	if rootID == "" {
		e.logger.Warn().Msg("Fanout-abort task without root_pipeline_key dropped")
		return nil
	}
	cursor := form.Get("cursor")
	batch := formInt(form, "batch")

	ids, next, err := e.store.ListPipelineIDsByRoot(rootID, cursor, e.cfg.AbortBatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := queue.AddIgnoreExists(ctx, e.queue, abortTask(id)); err != nil {
			return err
		}
	}
	if next != "" {
		return queue.AddIgnoreExists(ctx, e.queue, fanoutAbortTask(rootID, next, batch+1))
	}
	return nil
}

// HandleAbort aborts one pipeline. Sync and generator stages abort from
// any non-terminal state; a running async stage aborts only if its
// TryCancel confirms the external work was cancelled.
func (e *Engine) HandleAbort(ctx context.Context, form url.Values) error {
	pipelineID := form.Get("pipeline_key")
	if pipelineID == "" {
		e.logger.Warn().Msg("Abort task without pipeline_key dropped")
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
	return e.abortPipeline(ctx, p)
}

// abortPipeline applies abort semantics to one pipeline: consult
// TryCancel for running async stages, run the finalize hook with the
// aborted flag, and transition to ABORTED.
func (e *Engine) abortPipeline(ctx context.Context, p *types.PipelineRecord) error {
	params, paramsErr := e.loadParams(ctx, p)

	var stage any
	if paramsErr == nil {
		stage, _ = e.registry.New(params.ClassPath)
	}

	if stage != nil && p.Status == types.PipelineRun {
		if _, isAsync := stage.(pipeline.AsyncStage); isAsync {
			canceler, ok := stage.(pipeline.Canceler)
			if !ok {
				// No cooperative cancel: the stage keeps running and
				// abort takes effect at normal completion.
				return nil
			}
			args, kwargs, err := e.resolveArgs(ctx, params)
			if err != nil {
				args, kwargs = nil, nil
			}
			rc := pipeline.NewRunContext(pipeline.RunContextConfig{
				Ctx:         ctx,
				Logger:      log.Pipeline(p.RootPipelineID, p.ID),
				PipelineID:  p.ID,
				RootID:      p.RootPipelineID,
				ClassPath:   params.ClassPath,
				Attempt:     p.CurrentAttempt,
				MaxAttempts: p.MaxAttempts,
				Args:        args,
				Kwargs:      kwargs,
				Outputs:     pipeline.RestoreFuture(params.OutputSlots),
			})
			if !canceler.TryCancel(rc) {
				return nil
			}
		}
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
			WasAborted: true,
			Outputs:    outputs,
		})
		if err := finalizer.Finalized(fc); err != nil {
			return err
		}
	}

	now := e.now()
	aborted := false
	err := e.store.Atomically(func(tx storage.Tx) error {
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
		cur.Status = types.PipelineAborted
		cur.FinalizedTime = now
		aborted = true
		return tx.PutPipeline(cur)
	})
	if err != nil {
		return err
	}
	if aborted {
		metrics.PipelinesFinalized.WithLabelValues(string(types.PipelineAborted)).Inc()
		e.publish(events.Event{
			Type:           events.EventPipelineAborted,
			RootPipelineID: p.RootPipelineID,
			PipelineID:     p.ID,
			Message:        "pipeline aborted",
		})
		e.logger.Info().Str("pipeline_id", p.ID).Msg("Pipeline aborted")
	}
	return nil
}
