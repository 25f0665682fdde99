package engine

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/cascade/pkg/blob"
	"github.com/cuemby/cascade/pkg/codec"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/cuemby/cascade/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock so retry backoff and ETAs are
// deterministic in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 10, 13, 10, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// recordingQueue wraps the in-memory queue and keeps a copy of every
// accepted task so tests can assert on what was enqueued.
type recordingQueue struct {
	*queue.Memory
	mu    sync.Mutex
	added []*queue.Task
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{Memory: queue.NewMemory()}
}

func (q *recordingQueue) Add(ctx context.Context, task *queue.Task) error {
	if err := q.Memory.Add(ctx, task); err != nil {
		return err
	}
	copied := *task
	q.mu.Lock()
	q.added = append(q.added, &copied)
	q.mu.Unlock()
	return nil
}

func (q *recordingQueue) addedTasks(path string) []*queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var tasks []*queue.Task
	for _, task := range q.added {
		if task.Path == path {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// harness wires a real BoltDB store, a file blob store, the in-memory
// queue and a fresh registry into one engine per test.
type harness struct {
	t     *testing.T
	store *storage.BoltStore
	blobs *blob.FileStore
	queue *recordingQueue
	reg   *pipeline.Registry
	eng   *Engine
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	q := newRecordingQueue()
	reg := pipeline.NewRegistry()
	clock := newFakeClock()
	eng := New(store, blobs, q, reg, nil, Config{Clock: clock.Now})

	return &harness{t: t, store: store, blobs: blobs, queue: q, reg: reg, eng: eng, clock: clock}
}

// drain pops and delivers tasks until the queue is empty. The clock
// advances to each task's ETA. Handler errors are redelivered a bounded
// number of times, mirroring the queue's retry behavior.
func (h *harness) drain() {
	h.t.Helper()
	ctx := context.Background()
	failures := make(map[string]int)

	for spins := 0; ; spins++ {
		require.Less(h.t, spins, 10000, "workflow did not quiesce")
		task := h.queue.Pop()
		if task == nil {
			return
		}
		h.clock.Set(task.ETA)
		if err := h.eng.Deliver(ctx, task.Path, task.Params); err != nil {
			key := task.Path + "?" + task.Params.Encode()
			failures[key]++
			require.Less(h.t, failures[key], 50,
				"task %s kept failing: %v", key, err)
			// Redeliver like the real queue would, bypassing name dedup.
			requeued := *task
			requeued.Name = ""
			require.NoError(h.t, h.queue.Add(ctx, &requeued))
		}
	}
}

// drainTwice delivers every task twice to exercise at-least-once
// semantics.
func (h *harness) drainTwice() {
	h.t.Helper()
	ctx := context.Background()
	for spins := 0; ; spins++ {
		require.Less(h.t, spins, 10000, "workflow did not quiesce")
		task := h.queue.Pop()
		if task == nil {
			return
		}
		h.clock.Set(task.ETA)
		err := h.eng.Deliver(ctx, task.Path, task.Params)
		// Duplicate delivery must never make things worse.
		_ = h.eng.Deliver(ctx, task.Path, task.Params)
		if err != nil {
			requeued := *task
			requeued.Name = ""
			require.NoError(h.t, h.queue.Add(ctx, &requeued))
		}
	}
}

// start launches a root stage and drains the workflow to quiescence.
func (h *harness) start(call pipeline.StageCall, opts StartOptions) string {
	h.t.Helper()
	rootID, err := h.eng.Start(context.Background(), call, opts)
	require.NoError(h.t, err)
	h.drain()
	return rootID
}

func (h *harness) pipeline(id string) *types.PipelineRecord {
	h.t.Helper()
	record, err := h.store.GetPipeline(id)
	require.NoError(h.t, err)
	return record
}

// outputs resolves a pipeline's output slot values by name. Unfilled
// slots are absent from the map.
func (h *harness) outputs(pipelineID string) map[string]any {
	h.t.Helper()
	record := h.pipeline(pipelineID)
	params, err := h.eng.loadParams(context.Background(), record)
	require.NoError(h.t, err)

	values := make(map[string]any)
	for name, key := range params.OutputSlots {
		slot, err := h.store.GetSlot(key)
		require.NoError(h.t, err)
		if slot.Status != types.SlotFilled {
			continue
		}
		value, err := codec.DecodePayload(context.Background(), slot.Value, h.blobs)
		require.NoError(h.t, err)
		values[name] = value
	}
	return values
}

// outputSlotKey returns the record key of a pipeline's named output.
func (h *harness) outputSlotKey(pipelineID, name string) string {
	h.t.Helper()
	record := h.pipeline(pipelineID)
	params, err := h.eng.loadParams(context.Background(), record)
	require.NoError(h.t, err)
	key, ok := params.OutputSlots[name]
	require.True(h.t, ok, "output %q not declared", name)
	return key
}

// --- test stages ---

type echoSync struct{}

func (echoSync) Run(rc *pipeline.RunContext) (any, error) {
	args := rc.Args()
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return args[0], nil
	}
	return args, nil
}

// echoNamedSync copies each keyword argument into the output slot of the
// same name, optionally prefixed.
type echoNamedSync struct{}

func (echoNamedSync) Run(rc *pipeline.RunContext) (any, error) {
	prefix := ""
	if raw, ok := rc.Kwarg("prefix"); ok {
		prefix, _ = raw.(string)
	}
	for name, value := range rc.Kwargs() {
		if name == "prefix" {
			continue
		}
		text, _ := value.(string)
		if err := rc.Fill(name, prefix+text); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type echoParticularNamedSync struct {
	echoNamedSync
}

func (echoParticularNamedSync) OutputNames() []string {
	return []string{"one", "two", "three", "four"}
}

// fillAndPass fills the outputs listed in its first argument itself and
// hands the remaining keyword arguments to a child.
type fillAndPass struct{}

func (fillAndPass) Generate(rc *pipeline.RunContext, b *pipeline.Builder) error {
	kwargs := make(map[string]any, len(rc.Kwargs()))
	for name, value := range rc.Kwargs() {
		kwargs[name] = value
	}
	if list, ok := rc.Arg(0).([]any); ok {
		for _, raw := range list {
			name := raw.(string)
			if err := rc.Fill(name, kwargs[name]); err != nil {
				return err
			}
			delete(kwargs, name)
		}
	}
	if len(kwargs) > 0 {
		if _, err := b.Yield(pipeline.StageCall{
			ClassPath: "test.EchoNamedSync",
			Kwargs:    kwargs,
		}); err != nil {
			return err
		}
	}
	return nil
}

type fillAndPassParticular struct {
	fillAndPass
}

func (fillAndPassParticular) OutputNames() []string {
	return []string{"one", "two", "three", "four"}
}

// divideWithRemainder returns the quotient and fills the remainder.
type divideWithRemainder struct{}

func (divideWithRemainder) OutputNames() []string {
	return []string{"remainder"}
}

func (divideWithRemainder) Run(rc *pipeline.RunContext) (any, error) {
	dividend := rc.Arg(0).(int64)
	divisor := rc.Arg(1).(int64)
	if err := rc.Fill("remainder", dividend%divisor); err != nil {
		return nil, err
	}
	return dividend / divisor, nil
}

// euclidGCD runs the euclidean algorithm through recursive fan-out.
type euclidGCD struct{}

func (euclidGCD) OutputNames() []string {
	return []string{"gcd"}
}

func (euclidGCD) Generate(rc *pipeline.RunContext, b *pipeline.Builder) error {
	a := rc.Arg(0).(int64)
	bVal := rc.Arg(1).(int64)
	if bVal > a {
		a, bVal = bVal, a
	}
	if bVal == 0 {
		return rc.Fill("gcd", a)
	}
	div, err := b.Yield(pipeline.StageCall{
		ClassPath: "test.DivideWithRemainder",
		Args:      []any{a, bVal},
	})
	if err != nil {
		return err
	}
	remainder, err := div.Output("remainder")
	if err != nil {
		return err
	}
	_, err = b.Yield(pipeline.StageCall{
		ClassPath: "test.EuclidGCD",
		Args:      []any{bVal, remainder},
	})
	return err
}

// runOrderLog collects the observable execution order of saveRunOrder
// stages.
type runOrderLog struct {
	mu    sync.Mutex
	order []string
}

func (l *runOrderLog) add(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, message)
}

func (l *runOrderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type saveRunOrder struct {
	log *runOrderLog
}

func (s saveRunOrder) Run(rc *pipeline.RunContext) (any, error) {
	s.log.add(rc.Arg(0).(string))
	return nil, nil
}

// inOrderGenerator yields its messages inside an InOrder scope.
type inOrderGenerator struct{}

func (inOrderGenerator) Generate(rc *pipeline.RunContext, b *pipeline.Builder) error {
	b.InOrder(func() {
		for _, raw := range rc.Arg(0).([]any) {
			_, _ = b.Yield(pipeline.StageCall{
				ClassPath: "test.SaveRunOrder",
				Args:      []any{raw},
			})
		}
	})
	return b.Err()
}

// diesOnRun always fails.
type diesOnRun struct{}

func (diesOnRun) Run(rc *pipeline.RunContext) (any, error) {
	return nil, fmt.Errorf("death to this pipeline")
}

// echoAsync completes through a callback carrying its argument.
type echoAsync struct{}

func (echoAsync) RunAsync(rc *pipeline.RunContext) error {
	rc.EnqueueCallback(url.Values{"value": {rc.Arg(0).(string)}}, 0)
	return nil
}

func (echoAsync) Callback(cc *pipeline.CallbackContext) error {
	cc.Complete(cc.Param("value"))
	return nil
}

// registerCommonStages installs the fixtures most tests share.
func registerCommonStages(reg *pipeline.Registry, log *runOrderLog) {
	reg.MustRegister("test.EchoSync", func() any { return echoSync{} })
	reg.MustRegister("test.EchoNamedSync", func() any { return echoNamedSync{} })
	reg.MustRegister("test.EchoParticularNamedSync", func() any { return echoParticularNamedSync{} })
	reg.MustRegister("test.FillAndPass", func() any { return fillAndPass{} })
	reg.MustRegister("test.FillAndPassParticular", func() any { return fillAndPassParticular{} })
	reg.MustRegister("test.DivideWithRemainder", func() any { return divideWithRemainder{} })
	reg.MustRegister("test.EuclidGCD", func() any { return euclidGCD{} })
	reg.MustRegister("test.SaveRunOrder", func() any { return saveRunOrder{log: log} })
	reg.MustRegister("test.InOrderGenerator", func() any { return inOrderGenerator{} })
	reg.MustRegister("test.DiesOnRun", func() any { return diesOnRun{} })
	reg.MustRegister("test.EchoAsync", func() any { return echoAsync{} })
}
