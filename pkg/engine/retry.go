package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
)

// stageFailure routes an error out of stage code: an AbortError becomes
// a whole-workflow abort, anything else a retry of this stage.
func (e *Engine) stageFailure(ctx context.Context, p *types.PipelineRecord, params *types.ParamsRecord, async bool, err error) error {
	var abort *pipeline.AbortError
	if errors.As(err, &abort) {
		return e.requestAbort(ctx, p.RootPipelineID, abort.Message)
	}
	return e.recordRetry(ctx, p, params, async, err.Error())
}

// recordRetry increments the attempt counter and either schedules the
// next attempt with exponential backoff or, when attempts are exhausted,
// aborts the whole workflow with the retry message.
func (e *Engine) recordRetry(ctx context.Context, p *types.PipelineRecord, params *types.ParamsRecord, async bool, message string) error {
	backoffSeconds := e.cfg.Retry.BackoffSeconds
	backoffFactor := e.cfg.Retry.BackoffFactor
	if params != nil {
		if params.BackoffSeconds > 0 {
			backoffSeconds = params.BackoffSeconds
		}
		if params.BackoffFactor > 0 {
			backoffFactor = params.BackoffFactor
		}
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	now := e.now()
	exhausted := false
	stale := true
	var nextAttempt int
	var nextRetry time.Time

	err := e.store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetPipeline(p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Status.Terminal() || cur.CurrentAttempt != p.CurrentAttempt {
			return nil
		}
		stale = false

		failed := cur.CurrentAttempt
		cur.CurrentAttempt++
		cur.RetryMessage = message

		if cur.CurrentAttempt >= maxAttempts {
			exhausted = true
			return tx.PutPipeline(cur)
		}

		delay := backoffSeconds * math.Pow(backoffFactor, float64(failed))
		cur.NextRetryTime = now.Add(time.Duration(delay * float64(time.Second)))
		if async && cur.Status == types.PipelineRun {
			// Retrying an async stage re-invokes RunAsync from scratch.
			cur.Status = types.PipelineWaiting
		}
		nextAttempt = cur.CurrentAttempt
		nextRetry = cur.NextRetryTime
		return tx.PutPipeline(cur)
	})
	if err != nil {
		return err
	}
	if stale {
		return nil
	}

	if exhausted {
		e.logger.Warn().
			Str("pipeline_id", p.ID).
			Str("retry_message", message).
			Msg("Attempts exhausted, aborting workflow")
		return e.requestAbort(ctx, p.RootPipelineID, message)
	}

	if err := queue.AddIgnoreExists(ctx, e.queue, runTask(p.ID, nextAttempt, nextRetry)); err != nil {
		return err
	}
	metrics.PipelineRetries.Inc()
	e.publish(events.Event{
		Type:           events.EventPipelineRetry,
		RootPipelineID: p.RootPipelineID,
		PipelineID:     p.ID,
		Message:        message,
	})
	e.logger.Info().
		Str("pipeline_id", p.ID).
		Int("attempt", nextAttempt).
		Time("next_retry_time", nextRetry).
		Str("retry_message", message).
		Msg("Retry scheduled")
	return nil
}
