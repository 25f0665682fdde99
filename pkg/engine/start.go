package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/cascade/pkg/codec"
	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
	"github.com/google/uuid"
)

// StartOptions tune a root pipeline start.
type StartOptions struct {
	// IdempotenceKey names the root pipeline. Starting twice with the
	// same key fails with ExistsError while the first workflow is
	// alive. Generated when empty.
	IdempotenceKey string

	// QueueName and BasePath route the workflow's tasks.
	QueueName string
	BasePath  string

	// Retry overrides the engine retry defaults for the root stage.
	Retry *pipeline.RetryOptions

	// Countdown delays the first run relative to now. ETA pins it to an
	// absolute time. Setting both is a setup error.
	Countdown time.Duration
	ETA       time.Time
}

// Start creates a root pipeline and enqueues its first run. Setup
// problems are returned synchronously with nothing persisted.
func (e *Engine) Start(ctx context.Context, call pipeline.StageCall, opts StartOptions) (string, error) {
	if opts.Countdown != 0 && !opts.ETA.IsZero() {
		return "", pipeline.Setupf("countdown and eta are mutually exclusive")
	}
	if !e.registry.Resolvable(call.ClassPath) {
		return "", pipeline.Setupf("no stage registered for class path %q", call.ClassPath)
	}
	for i, arg := range call.Args {
		if refersToSlot(arg) {
			return "", pipeline.Setupf("root argument %d must be an immediate value", i)
		}
	}
	for name, arg := range call.Kwargs {
		if refersToSlot(arg) {
			return "", pipeline.Setupf("root argument %q must be an immediate value", name)
		}
	}

	outputNames, err := e.registry.OutputNamesOf(call.ClassPath)
	if err != nil {
		return "", pipeline.Setupf("%v", err)
	}
	future, err := pipeline.NewFuture(outputNames)
	if err != nil {
		return "", err
	}

	retry := e.cfg.Retry
	if configurer, ok := e.mustInstantiate(call.ClassPath).(pipeline.RetryConfigurer); ok {
		retry = configurer.RetryPolicy().Merged(retry)
	}
	if opts.Retry != nil {
		retry = opts.Retry.Merged(retry)
	}

	queueName := opts.QueueName
	if queueName == "" {
		queueName = e.cfg.QueueName
	}
	basePath := opts.BasePath
	if basePath == "" {
		basePath = e.cfg.BasePath
	}

	params, err := pipeline.BuildParams(call, future, nil, retry, queueName, basePath)
	if err != nil {
		return "", err
	}
	text, err := types.EncodeParams(params)
	if err != nil {
		return "", &pipeline.SerializationError{Err: err}
	}
	payload, err := codec.NewPayload(ctx, text, e.blobs, e.cfg.InlineSize)
	if err != nil {
		return "", err
	}

	rootID := opts.IdempotenceKey
	if rootID == "" {
		rootID = uuid.NewString()
	}
	now := e.now()

	err = e.store.Atomically(func(tx storage.Tx) error {
		if _, err := tx.GetPipeline(rootID); err == nil {
			return &pipeline.ExistsError{PipelineID: rootID}
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		record := &types.PipelineRecord{
			ID:             rootID,
			ClassPath:      call.ClassPath,
			RootPipelineID: rootID,
			IsRootPipeline: true,
			Params:         payload,
			Status:         types.PipelineWaiting,
			MaxAttempts:    params.MaxAttempts,
		}
		if err := tx.PutPipeline(record); err != nil {
			return err
		}

		for _, key := range future.OutputKeys() {
			slot := &types.SlotRecord{
				ID:             key,
				RootPipelineID: rootID,
				Status:         types.SlotWaiting,
			}
			if err := tx.PutSlot(slot); err != nil {
				return err
			}
		}

		// The root has no dependencies; its START barrier is born fired
		// and the run task below is the actual trigger.
		start := &types.BarrierRecord{
			TargetPipelineID: rootID,
			Purpose:          types.PurposeStart,
			RootPipelineID:   rootID,
			Status:           types.BarrierFired,
			TriggerTime:      now,
		}
		if err := tx.PutBarrier(start); err != nil {
			return err
		}

		defaultKey := future.Default().Key()
		finalize := &types.BarrierRecord{
			TargetPipelineID: rootID,
			Purpose:          types.PurposeFinalize,
			RootPipelineID:   rootID,
			BlockingSlots:    []string{defaultKey},
			Status:           types.BarrierWaiting,
		}
		if err := tx.PutBarrier(finalize); err != nil {
			return err
		}
		index := &types.BarrierIndexEntry{
			SlotID:           defaultKey,
			TargetPipelineID: rootID,
			Purpose:          types.PurposeFinalize,
			RootPipelineID:   rootID,
		}
		return tx.PutBarrierIndex(index)
	})
	if err != nil {
		return "", err
	}

	eta := opts.ETA
	if opts.Countdown > 0 {
		eta = now.Add(opts.Countdown)
	}
	if err := queue.AddIgnoreExists(ctx, e.queue, runTask(rootID, 0, eta)); err != nil {
		return "", fmt.Errorf("failed to enqueue initial run: %w", err)
	}

	metrics.PipelinesStarted.Inc()
	e.publish(events.Event{
		Type:           events.EventPipelineStarted,
		RootPipelineID: rootID,
		PipelineID:     rootID,
		Message:        "started " + call.ClassPath,
	})
	e.logger.Info().
		Str("pipeline_id", rootID).
		Str("class_path", call.ClassPath).
		Msg("Root pipeline started")
	return rootID, nil
}

// refersToSlot reports whether an argument is a slot or future reference.
func refersToSlot(v any) bool {
	switch v.(type) {
	case *pipeline.Slot, *pipeline.Future:
		return true
	}
	return false
}

// mustInstantiate returns a probe instance for a class known to be
// registered.
func (e *Engine) mustInstantiate(classPath string) any {
	instance, err := e.registry.New(classPath)
	if err != nil {
		return nil
	}
	return instance
}

// RequestCleanup enqueues deletion of the whole record closure under a
// finished root.
func (e *Engine) RequestCleanup(ctx context.Context, rootID string) error {
	root, err := e.store.GetPipeline(rootID)
	if err != nil {
		return err
	}
	if !root.IsRootPipeline {
		return pipeline.Setupf("pipeline %s is not a root", rootID)
	}
	if !root.Status.Terminal() {
		return pipeline.Setupf("pipeline %s has not finished", rootID)
	}
	return queue.AddIgnoreExists(ctx, e.queue, cleanupTask(rootID))
}
