package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/cuemby/cascade/pkg/codec"
	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/log"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
)

// HandleRun loads a stage and evaluates its kind-specific contract. It
// is delivered at least once per (pipeline, attempt); every state write
// asserts the source state so duplicates are no-ops.
func (e *Engine) HandleRun(ctx context.Context, form url.Values) error {
	pipelineID := form.Get("pipeline_key")
	if pipelineID == "" {
		e.logger.Warn().Msg("Run task without pipeline_key dropped")
		return nil
	}
	attempt := formInt(form, "attempt")

	p, err := e.store.GetPipeline(pipelineID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug().Str("pipeline_id", pipelineID).Msg("Run task for missing pipeline dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		return nil
	}
	if attempt != p.CurrentAttempt {
		e.logger.Debug().
			Str("pipeline_id", pipelineID).
			Int("task_attempt", attempt).
			Int("current_attempt", p.CurrentAttempt).
			Msg("Run task for stale attempt dropped")
		return nil
	}
	now := e.now()
	if !p.NextRetryTime.IsZero() && now.Before(p.NextRetryTime) {
		// The queue delivered earlier than the retry ETA; let it retry.
		return fmt.Errorf("pipeline %s retry not due until %s", pipelineID, p.NextRetryTime)
	}

	// Abort fast path: stop promptly even before the fan-out sweep
	// reaches this stage.
	root := p
	if !p.IsRootPipeline {
		root, err = e.store.GetPipeline(p.RootPipelineID)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn().Str("pipeline_id", pipelineID).Msg("Run task with missing root dropped")
			return nil
		}
		if err != nil {
			return err
		}
	}
	if root.AbortRequested {
		return e.abortPipeline(ctx, p)
	}

	params, err := e.loadParams(ctx, p)
	if err != nil {
		return e.recordRetry(ctx, p, nil, false, fmt.Sprintf("cannot load params: %v", err))
	}
	stage, err := e.registry.New(params.ClassPath)
	if err != nil {
		return e.recordRetry(ctx, p, params, false, err.Error())
	}

	generator, isGenerator := stage.(pipeline.GeneratorStage)
	if isGenerator && (p.Status == types.PipelineRun || len(p.FannedOut) > 0) {
		// A prior attempt already committed the child graph; only the
		// fanout may need re-emitting.
		return e.reFanout(ctx, p)
	}
	if p.Status != types.PipelineWaiting {
		return nil
	}

	args, kwargs, err := e.resolveArgs(ctx, params)
	if err != nil {
		var notFilled *pipeline.SlotNotFilledError
		if errors.As(err, &notFilled) {
			return e.recordRetry(ctx, p, params, false, err.Error())
		}
		return err
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

	if isGenerator {
		return e.runGenerator(ctx, p, params, generator, rc)
	}
	switch s := stage.(type) {
	case pipeline.SyncStage:
		return e.runSync(ctx, p, params, s, rc)
	case pipeline.AsyncStage:
		return e.runAsync(ctx, p, params, s, rc)
	}
	return fmt.Errorf("stage %s implements no known kind", params.ClassPath)
}

// runSync executes a synchronous stage: the return value fills the
// default slot, buffered fills cover the named outputs, and everything
// commits in one transaction.
func (e *Engine) runSync(ctx context.Context, p *types.PipelineRecord, params *types.ParamsRecord, stage pipeline.SyncStage, rc *pipeline.RunContext) error {
	value, err := stage.Run(rc)
	if err != nil {
		return e.stageFailure(ctx, p, params, false, err)
	}

	fills := rc.Fills()
	fills = append(fills, pipeline.Fill{
		Name:    types.DefaultOutput,
		SlotKey: params.OutputSlots[types.DefaultOutput],
		Value:   value,
	})
	return e.completeStage(ctx, p, params, rc, fills, types.PipelineWaiting)
}

// runGenerator drains the stage's child sequence and commits the child
// graph, or completes like a sync stage when no children were yielded.
func (e *Engine) runGenerator(ctx context.Context, p *types.PipelineRecord, params *types.ParamsRecord, stage pipeline.GeneratorStage, rc *pipeline.RunContext) error {
	builder := pipeline.NewBuilder(e.registry)
	if err := stage.Generate(rc, builder); err != nil {
		return e.stageFailure(ctx, p, params, false, err)
	}
	if err := builder.Err(); err != nil {
		return e.stageFailure(ctx, p, params, false, err)
	}

	retry := pipeline.RetryOptions{
		MaxAttempts:    params.MaxAttempts,
		BackoffSeconds: params.BackoffSeconds,
		BackoffFactor:  params.BackoffFactor,
	}.Merged(e.cfg.Retry)
	children, err := builder.Finalize(params.OutputSlots, retry, params.QueueName, params.BasePath)
	if err != nil {
		return e.stageFailure(ctx, p, params, false, err)
	}

	if len(children) == 0 {
		// A childless generator behaves like a sync stage whose return
		// value is nil: the engine fills the default slot itself.
		fills := rc.Fills()
		if !fillsInclude(fills, params.OutputSlots[types.DefaultOutput]) {
			fills = append(fills, pipeline.Fill{
				Name:    types.DefaultOutput,
				SlotKey: params.OutputSlots[types.DefaultOutput],
				Value:   nil,
			})
		}
		return e.completeStage(ctx, p, params, rc, fills, types.PipelineWaiting)
	}

	return e.commitChildGraph(ctx, p, params, rc, children)
}

// commitChildGraph persists a generator's children, slots, barriers and
// indexes, widens the parent's finalize barrier, and transitions the
// parent WAITING→RUN, all in one transaction.
func (e *Engine) commitChildGraph(ctx context.Context, p *types.PipelineRecord, params *types.ParamsRecord, rc *pipeline.RunContext, children []*pipeline.ChildSpec) error {
	now := e.now()

	type preparedChild struct {
		spec    *pipeline.ChildSpec
		payload codec.Payload
	}
	prepared := make([]preparedChild, 0, len(children))
	for _, child := range children {
		text, err := types.EncodeParams(child.Params)
		if err != nil {
			return e.stageFailure(ctx, p, params, false, &pipeline.SerializationError{Err: err})
		}
		payload, err := codec.NewPayload(ctx, text, e.blobs, e.cfg.InlineSize)
		if err != nil {
			return e.stageFailure(ctx, p, params, false, err)
		}
		prepared = append(prepared, preparedChild{spec: child, payload: payload})
	}

	fills, err := e.prepareFills(ctx, rc.Fills())
	if err != nil {
		return e.stageFailure(ctx, p, params, false, err)
	}

	childIDs := make([]string, 0, len(children))
	var unblocked []int
	for i, child := range children {
		childIDs = append(childIDs, child.PipelineID)
		if len(child.BlockingSlots()) == 0 {
			unblocked = append(unblocked, i)
		}
	}

	stale := false
	err = e.store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetPipeline(p.ID)
		if err != nil {
			return err
		}
		if cur.Status != types.PipelineWaiting || cur.CurrentAttempt != p.CurrentAttempt {
			stale = true
			return nil
		}

		for _, pc := range prepared {
			child := pc.spec
			record := &types.PipelineRecord{
				ID:             child.PipelineID,
				ClassPath:      child.Params.ClassPath,
				RootPipelineID: p.RootPipelineID,
				Params:         pc.payload,
				Status:         types.PipelineWaiting,
				MaxAttempts:    child.Params.MaxAttempts,
			}
			if err := tx.PutPipeline(record); err != nil {
				return err
			}

			for _, name := range child.Future.Names() {
				slot, err := child.Future.Output(name)
				if err != nil {
					return err
				}
				if slot.External() {
					continue
				}
				record := &types.SlotRecord{
					ID:             slot.Key(),
					RootPipelineID: p.RootPipelineID,
					Status:         types.SlotWaiting,
				}
				if err := tx.PutSlot(record); err != nil {
					return err
				}
			}

			blocking := child.BlockingSlots()
			start := &types.BarrierRecord{
				TargetPipelineID: child.PipelineID,
				Purpose:          types.PurposeStart,
				RootPipelineID:   p.RootPipelineID,
				BlockingSlots:    blocking,
			}
			if len(blocking) == 0 {
				start.Status = types.BarrierFired
				start.TriggerTime = now
			} else {
				start.Status = types.BarrierWaiting
			}
			if err := tx.PutBarrier(start); err != nil {
				return err
			}
			for _, slotKey := range blocking {
				index := &types.BarrierIndexEntry{
					SlotID:           slotKey,
					TargetPipelineID: child.PipelineID,
					Purpose:          types.PurposeStart,
					RootPipelineID:   p.RootPipelineID,
				}
				if err := tx.PutBarrierIndex(index); err != nil {
					return err
				}
			}

			childDefault := child.Future.Default().Key()
			finalize := &types.BarrierRecord{
				TargetPipelineID: child.PipelineID,
				Purpose:          types.PurposeFinalize,
				RootPipelineID:   p.RootPipelineID,
				BlockingSlots:    []string{childDefault},
				Status:           types.BarrierWaiting,
			}
			if err := tx.PutBarrier(finalize); err != nil {
				return err
			}
			index := &types.BarrierIndexEntry{
				SlotID:           childDefault,
				TargetPipelineID: child.PipelineID,
				Purpose:          types.PurposeFinalize,
				RootPipelineID:   p.RootPipelineID,
			}
			if err := tx.PutBarrierIndex(index); err != nil {
				return err
			}
		}

		// The parent finishes only when its own outputs and every
		// child's default slot are filled.
		if err := e.widenFinalizeBarrier(tx, p, params, children); err != nil {
			return err
		}

		for _, fill := range fills {
			if err := applyFill(tx, fill.slotKey, p.ID, fill.payload, now); err != nil {
				return err
			}
		}
		if err := e.putStatusTx(tx, p.ID, p.RootPipelineID, rc.Status()); err != nil {
			return err
		}

		cur.FannedOut = childIDs
		cur.Status = types.PipelineRun
		cur.StartTime = now
		return tx.PutPipeline(cur)
	})
	if err != nil {
		return err
	}
	if stale {
		return nil
	}

	if len(unblocked) > 0 {
		if err := queue.AddIgnoreExists(ctx, e.queue, fanoutTask(p.ID, unblocked)); err != nil {
			return fmt.Errorf("failed to enqueue fanout: %w", err)
		}
	}
	e.enqueueOutputs(ctx, fills)

	metrics.ChildrenFannedOut.Add(float64(len(children)))
	e.publish(events.Event{
		Type:           events.EventPipelineFannedOut,
		RootPipelineID: p.RootPipelineID,
		PipelineID:     p.ID,
		Message:        fmt.Sprintf("committed %d children", len(children)),
	})
	e.logger.Info().
		Str("pipeline_id", p.ID).
		Int("children", len(children)).
		Int("unblocked", len(unblocked)).
		Msg("Child graph committed")
	return nil
}

// widenFinalizeBarrier extends a generator's finalize barrier to block
// on its outputs plus every child's default slot. Legal only while the
// barrier is waiting; the blocking set of a fired barrier is immutable.
func (e *Engine) widenFinalizeBarrier(tx storage.Tx, p *types.PipelineRecord, params *types.ParamsRecord, children []*pipeline.ChildSpec) error {
	barrier, err := tx.GetBarrier(p.ID, types.PurposeFinalize)
	if err != nil {
		return fmt.Errorf("finalize barrier missing for %s: %w", p.ID, err)
	}
	if barrier.Status == types.BarrierFired {
		return nil
	}

	blocking := make(map[string]bool, len(barrier.BlockingSlots))
	for _, key := range barrier.BlockingSlots {
		blocking[key] = true
	}
	add := func(key string) error {
		if blocking[key] {
			return nil
		}
		blocking[key] = true
		barrier.BlockingSlots = append(barrier.BlockingSlots, key)
		index := &types.BarrierIndexEntry{
			SlotID:           key,
			TargetPipelineID: p.ID,
			Purpose:          types.PurposeFinalize,
			RootPipelineID:   p.RootPipelineID,
		}
		return tx.PutBarrierIndex(index)
	}

	for _, key := range params.OutputSlots {
		if err := add(key); err != nil {
			return err
		}
	}
	for _, child := range children {
		if err := add(child.Future.Default().Key()); err != nil {
			return err
		}
	}
	return tx.PutBarrier(barrier)
}

// runAsync starts an asynchronous stage and parks it in RUN until its
// callback completes it.
func (e *Engine) runAsync(ctx context.Context, p *types.PipelineRecord, params *types.ParamsRecord, stage pipeline.AsyncStage, rc *pipeline.RunContext) error {
	if err := stage.RunAsync(rc); err != nil {
		return e.stageFailure(ctx, p, params, true, err)
	}

	fills, err := e.prepareFills(ctx, rc.Fills())
	if err != nil {
		return e.stageFailure(ctx, p, params, true, err)
	}

	now := e.now()
	stale := false
	err = e.store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetPipeline(p.ID)
		if err != nil {
			return err
		}
		if cur.Status != types.PipelineWaiting || cur.CurrentAttempt != p.CurrentAttempt {
			stale = true
			return nil
		}
		for _, fill := range fills {
			if err := applyFill(tx, fill.slotKey, p.ID, fill.payload, now); err != nil {
				return err
			}
		}
		if err := e.putStatusTx(tx, p.ID, p.RootPipelineID, rc.Status()); err != nil {
			return err
		}
		cur.Status = types.PipelineRun
		cur.StartTime = now
		return tx.PutPipeline(cur)
	})
	if err != nil {
		return err
	}
	if stale {
		return nil
	}

	for _, request := range rc.Callbacks() {
		task := callbackTask(p.ID, request.Params, now.Add(request.Delay))
		if err := queue.AddIgnoreExists(ctx, e.queue, task); err != nil {
			return fmt.Errorf("failed to enqueue callback: %w", err)
		}
	}
	e.enqueueOutputs(ctx, fills)
	e.publish(events.Event{
		Type:           events.EventPipelineRun,
		RootPipelineID: p.RootPipelineID,
		PipelineID:     p.ID,
		Message:        "async stage running",
	})
	return nil
}

// completeStage verifies every declared output is filled, applies the
// buffered fills and leaves the stage for its finalize barrier. Shared
// by sync stages and childless generators.
func (e *Engine) completeStage(ctx context.Context, p *types.PipelineRecord, params *types.ParamsRecord, rc *pipeline.RunContext, fills []pipeline.Fill, requiredStatus types.PipelineStatus) error {
	if err := e.checkOutputsFilled(params, fills); err != nil {
		return e.stageFailure(ctx, p, params, false, err)
	}

	prepared, err := e.prepareFills(ctx, fills)
	if err != nil {
		return e.stageFailure(ctx, p, params, false, err)
	}

	now := e.now()
	stale := false
	err = e.store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetPipeline(p.ID)
		if err != nil {
			return err
		}
		if cur.Status != requiredStatus || cur.CurrentAttempt != p.CurrentAttempt {
			stale = true
			return nil
		}
		for _, fill := range prepared {
			if err := applyFill(tx, fill.slotKey, p.ID, fill.payload, now); err != nil {
				return err
			}
		}
		if err := e.putStatusTx(tx, p.ID, p.RootPipelineID, rc.Status()); err != nil {
			return err
		}
		cur.StartTime = now
		return tx.PutPipeline(cur)
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

// checkOutputsFilled verifies that every declared output slot either
// receives a fill now or was already filled by a prior attempt.
func (e *Engine) checkOutputsFilled(params *types.ParamsRecord, fills []pipeline.Fill) error {
	filling := make(map[string]bool, len(fills))
	for _, fill := range fills {
		filling[fill.SlotKey] = true
	}
	for name, key := range params.OutputSlots {
		if filling[key] {
			continue
		}
		record, err := e.store.GetSlot(key)
		if err == nil && record.Status == types.SlotFilled {
			continue
		}
		return &pipeline.SlotNotFilledError{SlotKey: key, Name: name}
	}
	return nil
}

// fillsInclude reports whether a fill targets the given slot key.
func fillsInclude(fills []pipeline.Fill, slotKey string) bool {
	for _, fill := range fills {
		if fill.SlotKey == slotKey {
			return true
		}
	}
	return false
}

// reFanout re-emits the fanout task for a generator whose child graph
// is already committed: children whose START barrier is fired get their
// run re-enqueued, de-duplicated by task name.
func (e *Engine) reFanout(ctx context.Context, p *types.PipelineRecord) error {
	var ready []int
	for i, childID := range p.FannedOut {
		barrier, err := e.store.GetBarrier(childID, types.PurposeStart)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if barrier.Status == types.BarrierFired {
			ready = append(ready, i)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	return queue.AddIgnoreExists(ctx, e.queue, fanoutTask(p.ID, ready))
}
