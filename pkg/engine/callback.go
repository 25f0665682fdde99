package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/cuemby/cascade/pkg/log"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
)

// CallbackAccessOf returns the access class of a pipeline's stage, for
// the API layer to enforce before dispatching. Unresolvable stages get
// the most restrictive class.
func (e *Engine) CallbackAccessOf(ctx context.Context, pipelineID string) pipeline.CallbackAccess {
	p, err := e.store.GetPipeline(pipelineID)
	if err != nil {
		return pipeline.AccessInternal
	}
	params, err := e.loadParams(ctx, p)
	if err != nil {
		return pipeline.AccessInternal
	}
	stage, err := e.registry.New(params.ClassPath)
	if err != nil {
		return pipeline.AccessInternal
	}
	if accessor, ok := stage.(pipeline.CallbackAccessor); ok {
		return accessor.CallbackAccess()
	}
	return pipeline.AccessInternal
}

// HandleCallback dispatches an external event to an async stage. The
// stage may fill outputs, complete, or request a retry.
func (e *Engine) HandleCallback(ctx context.Context, form url.Values) error {
	pipelineID := form.Get("pipeline_id")
	if pipelineID == "" {
		e.logger.Warn().Msg("Callback without pipeline_id dropped")
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
	if p.Status == types.PipelineWaiting {
		// The run handler has not parked the stage in RUN yet; the
		// queue redelivers the callback after it does.
		return fmt.Errorf("pipeline %s is not running yet", pipelineID)
	}

	params, err := e.loadParams(ctx, p)
	if err != nil {
		return err
	}
	stage, err := e.registry.New(params.ClassPath)
	if err != nil {
		return err
	}
	async, ok := stage.(pipeline.AsyncStage)
	if !ok {
		e.logger.Warn().
			Str("pipeline_id", pipelineID).
			Str("class_path", params.ClassPath).
			Msg("Callback for non-async stage dropped")
		return nil
	}

	userParams := url.Values{}
	for key, values := range form {
		if key == "pipeline_id" {
			continue
		}
		userParams[key] = append([]string(nil), values...)
	}

	cc := pipeline.NewCallbackContext(pipeline.CallbackContextConfig{
		Ctx:        ctx,
		Logger:     log.Pipeline(p.RootPipelineID, p.ID),
		PipelineID: p.ID,
		ClassPath:  params.ClassPath,
		Params:     userParams,
		Outputs:    pipeline.RestoreFuture(params.OutputSlots),
	})

	// The declared transaction mode bounds the callback's isolation.
	// The embedded store only distinguishes transactional from not, so
	// single-group and cross-group both map to one store transaction.
	mode := pipeline.CallbackNoTxn
	if declarer, ok := stage.(pipeline.CallbackTxnDeclarer); ok {
		mode = declarer.CallbackMode()
	}
	var callbackErr error
	if mode == pipeline.CallbackNoTxn {
		callbackErr = async.Callback(cc)
	} else {
		callbackErr = e.store.Atomically(func(tx storage.Tx) error {
			return async.Callback(cc)
		})
	}
	if callbackErr != nil {
		return e.stageFailure(ctx, p, params, true, callbackErr)
	}

	if requested, message := cc.RetryRequested(); requested {
		return e.recordRetry(ctx, p, params, true, message)
	}

	fills := cc.Fills()
	completed, value := cc.Completed()
	if completed {
		fills = append(fills, pipeline.Fill{
			Name:    types.DefaultOutput,
			SlotKey: params.OutputSlots[types.DefaultOutput],
			Value:   value,
		})
		if err := e.checkOutputsFilled(params, fills); err != nil {
			return e.stageFailure(ctx, p, params, true, err)
		}
	}

	prepared, err := e.prepareFills(ctx, fills)
	if err != nil {
		return e.stageFailure(ctx, p, params, true, err)
	}

	now := e.now()
	stale := false
	err = e.store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetPipeline(p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			stale = true
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Status != types.PipelineRun {
			stale = true
			return nil
		}
		for _, fill := range prepared {
			if err := applyFill(tx, fill.slotKey, p.ID, fill.payload, now); err != nil {
				return err
			}
		}
		return e.putStatusTx(tx, p.ID, p.RootPipelineID, cc.Status())
	})
	if err != nil {
		return err
	}
	if stale {
		return nil
	}

	e.enqueueOutputs(ctx, prepared)
	return nil
}
