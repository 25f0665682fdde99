package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/cascade/pkg/blob"
	"github.com/cuemby/cascade/pkg/codec"
	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/log"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
	"github.com/rs/zerolog"
)

// Config tunes the engine.
type Config struct {
	// BasePath is the URL prefix task endpoints live under.
	BasePath string

	// QueueName travels in emitted tasks' parameter records.
	QueueName string

	// InlineSize is the largest payload stored inline on a record.
	InlineSize int

	// NotifyBatchSize bounds barrier-index rows walked per output task
	// before a continuation is emitted.
	NotifyBatchSize int

	// AbortBatchSize bounds pipelines swept per fanout_abort task.
	AbortBatchSize int

	// Retry is the engine-wide retry default, overridable per class and
	// per call.
	Retry pipeline.RetryOptions

	// Clock supplies the current time. Tests inject a fake.
	Clock func() time.Time
}

// Engine owns all workflow state transitions. Every transition runs
// inside one of its idempotent task handlers, driven by the queue.
type Engine struct {
	store    storage.Store
	blobs    blob.Store
	queue    queue.Queue
	registry *pipeline.Registry
	broker   *events.Broker
	logger   zerolog.Logger
	cfg      Config
}

// New creates an engine. The broker may be nil to disable events.
func New(store storage.Store, blobs blob.Store, q queue.Queue, registry *pipeline.Registry, broker *events.Broker, cfg Config) *Engine {
	if cfg.BasePath == "" {
		cfg.BasePath = "/_ah/pipeline"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "default"
	}
	if cfg.InlineSize <= 0 {
		cfg.InlineSize = codec.DefaultInlineSize
	}
	if cfg.NotifyBatchSize <= 0 {
		cfg.NotifyBatchSize = 16
	}
	if cfg.AbortBatchSize <= 0 {
		cfg.AbortBatchSize = 32
	}
	cfg.Retry = cfg.Retry.Merged(pipeline.DefaultRetryOptions())
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		store:    store,
		blobs:    blobs,
		queue:    q,
		registry: registry,
		broker:   broker,
		logger:   log.Component("engine"),
		cfg:      cfg,
	}
}

// Registry returns the engine's stage registry.
func (e *Engine) Registry() *pipeline.Registry {
	return e.registry
}

func (e *Engine) now() time.Time {
	return e.cfg.Clock()
}

// Deliver dispatches one task to its handler. The API server and tests
// both drive the engine through it.
func (e *Engine) Deliver(ctx context.Context, path string, form url.Values) error {
	timer := metrics.NewTimer()
	var err error
	switch path {
	case queue.PathRun:
		err = e.HandleRun(ctx, form)
	case queue.PathOutput:
		err = e.HandleOutput(ctx, form)
	case queue.PathFinalized:
		err = e.HandleFinalized(ctx, form)
	case queue.PathFanout:
		err = e.HandleFanout(ctx, form)
	case queue.PathFanoutAbort:
		err = e.HandleFanoutAbort(ctx, form)
	case queue.PathAbort:
		err = e.HandleAbort(ctx, form)
	case queue.PathCallback:
		err = e.HandleCallback(ctx, form)
	case queue.PathCleanup:
		err = e.HandleCleanup(ctx, form)
	default:
		return fmt.Errorf("unknown task path %q", path)
	}

	timer.ObserveDurationVec(metrics.TaskDuration, path)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.TasksTotal.WithLabelValues(path, outcome).Inc()
	return err
}

// publish emits an engine lifecycle event when a broker is attached.
// Event times come from the engine clock so they line up with record
// timestamps.
func (e *Engine) publish(event events.Event) {
	if e.broker == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = e.now()
	}
	e.broker.Publish(event)
}

// loadParams decodes a pipeline's parameter record, reading through the
// blob store when offloaded.
func (e *Engine) loadParams(ctx context.Context, p *types.PipelineRecord) (*types.ParamsRecord, error) {
	text, err := codec.PayloadText(ctx, p.Params, e.blobs)
	if err != nil {
		return nil, err
	}
	return types.DecodeParams(text)
}

// resolveArgs dereferences a parameter record into runnable arguments.
// A missing slot record is a fatal inconsistency; an unfilled slot is a
// SlotNotFilledError the caller routes through retry.
func (e *Engine) resolveArgs(ctx context.Context, params *types.ParamsRecord) ([]any, map[string]any, error) {
	deref := func(spec types.ArgSpec) (any, error) {
		if spec.Type == types.ArgSlot {
			record, err := e.store.GetSlot(spec.SlotKey)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("blocking slot %s disappeared", spec.SlotKey)
			}
			if err != nil {
				return nil, err
			}
			if record.Status != types.SlotFilled {
				return nil, &pipeline.SlotNotFilledError{SlotKey: spec.SlotKey}
			}
			return codec.DecodePayload(ctx, record.Value, e.blobs)
		}
		return codec.Unwrap(spec.Value)
	}

	args := make([]any, 0, len(params.Args))
	for _, spec := range params.Args {
		value, err := deref(spec)
		if err != nil {
			return nil, nil, err
		}
		args = append(args, value)
	}
	kwargs := make(map[string]any, len(params.Kwargs))
	for name, spec := range params.Kwargs {
		value, err := deref(spec)
		if err != nil {
			return nil, nil, err
		}
		kwargs[name] = value
	}
	return args, kwargs, nil
}

// resolvedOutputs restores a stage's future with filled slot values
// loaded, for finalize hooks.
func (e *Engine) resolvedOutputs(ctx context.Context, params *types.ParamsRecord) (*pipeline.Future, error) {
	future := pipeline.RestoreFuture(params.OutputSlots)
	for name := range params.OutputSlots {
		slot, err := future.Output(name)
		if err != nil {
			return nil, err
		}
		record, err := e.store.GetSlot(slot.Key())
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if record.Status != types.SlotFilled {
			continue
		}
		value, err := codec.DecodePayload(ctx, record.Value, e.blobs)
		if err != nil {
			return nil, err
		}
		slot.Resolve(value, record.Filler, record.FillTime)
	}
	return future, nil
}

// preparedFill is a fill with its value already encoded, ready to apply
// inside a transaction.
type preparedFill struct {
	slotKey string
	payload codec.Payload
}

// prepareFills encodes fill values up front so blob offloading happens
// outside the store transaction.
func (e *Engine) prepareFills(ctx context.Context, fills []pipeline.Fill) ([]preparedFill, error) {
	prepared := make([]preparedFill, 0, len(fills))
	for _, fill := range fills {
		payload, err := codec.EncodePayload(ctx, fill.Value, e.blobs, e.cfg.InlineSize)
		if err != nil {
			return nil, &pipeline.SerializationError{Err: err}
		}
		if !payload.Inline() {
			metrics.PayloadsOffloaded.Inc()
		}
		prepared = append(prepared, preparedFill{slotKey: fill.SlotKey, payload: payload})
	}
	return prepared, nil
}

// applyFill marks a slot filled inside a transaction. Re-filling an
// already filled slot overwrites value and fill time; status never
// reverts to waiting.
func applyFill(tx storage.Tx, slotKey, fillerID string, payload codec.Payload, now time.Time) error {
	record, err := tx.GetSlot(slotKey)
	if err != nil {
		return fmt.Errorf("cannot fill slot %s: %w", slotKey, err)
	}
	record.Status = types.SlotFilled
	record.Value = payload
	record.Filler = fillerID
	record.FillTime = now
	return tx.PutSlot(record)
}

// putStatusTx writes an advisory status record inside a transaction.
func (e *Engine) putStatusTx(tx storage.Tx, pipelineID, rootID string, update *pipeline.StatusUpdate) error {
	if update == nil {
		return nil
	}
	return tx.PutStatus(&types.StatusRecord{
		PipelineID:     pipelineID,
		RootPipelineID: rootID,
		Message:        update.Message,
		ConsoleURL:     update.ConsoleURL,
		LinkNames:      append([]string(nil), update.LinkNames...),
		LinkURLs:       append([]string(nil), update.LinkURLs...),
		StatusTime:     e.now(),
	})
}

// enqueueOutputs emits one output task per freshly filled slot.
func (e *Engine) enqueueOutputs(ctx context.Context, fills []preparedFill) {
	for _, fill := range fills {
		task := outputTask(fill.slotKey, "", 0)
		if err := queue.AddIgnoreExists(ctx, e.queue, task); err != nil {
			e.logger.Error().Err(err).Str("slot_id", fill.slotKey).Msg("Failed to enqueue output task")
		}
		metrics.SlotsFilled.Inc()
		e.publish(events.Event{
			Type:    events.EventSlotFilled,
			SlotID:  fill.slotKey,
			Message: "slot filled",
		})
	}
}

// formInt parses an integer form field, defaulting to 0.
func formInt(form url.Values, key string) int {
	n, err := strconv.Atoi(form.Get(key))
	if err != nil {
		return 0
	}
	return n
}
