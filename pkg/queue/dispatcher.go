package queue

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/cascade/pkg/log"
	"github.com/rs/zerolog"
)

// DispatcherConfig tunes task delivery.
type DispatcherConfig struct {
	// BaseURL is the scheme://host of the engine's API server. The task
	// path is appended under BasePath.
	BaseURL  string
	BasePath string

	// QueueName travels in the origin header.
	QueueName string

	// MaxRetries bounds delivery attempts per task before it is dropped.
	MaxRetries int

	// RetryBackoff is the initial delay between delivery attempts; it
	// doubles per attempt.
	RetryBackoff time.Duration

	// Workers is the delivery concurrency.
	Workers int

	Client *http.Client
}

// Dispatcher is an at-least-once task queue delivering named HTTP POSTs
// to the engine's task endpoints. Named tasks are de-duplicated for the
// lifetime of the process; ETAs delay delivery.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger zerolog.Logger

	mu   sync.Mutex
	seen map[string]bool

	pending chan *Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Zero config fields get defaults:
// 32 retries, 1s initial backoff, 4 workers, /_ah/pipeline base path.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 32
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/_ah/pipeline"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "default"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Dispatcher{
		cfg:     cfg,
		logger:  log.Component("queue"),
		seen:    make(map[string]bool),
		pending: make(chan *Task, 1024),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop stops delivery. In-flight requests finish; queued tasks are lost,
// which is safe because every enqueue is recoverable from record state.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Add enqueues a task for delivery at its ETA.
func (d *Dispatcher) Add(ctx context.Context, task *Task) error {
	if task.Name != "" {
		d.mu.Lock()
		if d.seen[task.Name] {
			d.mu.Unlock()
			return ErrTaskExists
		}
		d.seen[task.Name] = true
		d.mu.Unlock()
	}

	copied := *task
	select {
	case d.pending <- &copied:
		return nil
	case <-d.stopCh:
		return fmt.Errorf("dispatcher is stopped")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case task := <-d.pending:
			d.deliver(task)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) deliver(task *Task) {
	if wait := time.Until(task.ETA); wait > 0 {
		select {
		case <-time.After(wait):
		case <-d.stopCh:
			return
		}
	}

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(d.cfg.RetryBackoff) *
				math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-d.stopCh:
				return
			}
		}

		status, err := d.post(task, attempt)
		if err == nil && status >= 200 && status < 300 {
			return
		}
		d.logger.Warn().
			Err(err).
			Int("status", status).
			Int("attempt", attempt).
			Str("task_name", task.Name).
			Str("path", task.Path).
			Msg("Task delivery failed")
	}

	d.logger.Error().
		Str("task_name", task.Name).
		Str("path", task.Path).
		Msg("Task dropped after max delivery retries")
}

func (d *Dispatcher) post(task *Task, attempt int) (int, error) {
	endpoint := strings.TrimRight(d.cfg.BaseURL, "/") +
		d.cfg.BasePath + "/" + task.Path

	body := url.Values{}
	for key, values := range task.Params {
		body[key] = values
	}

	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodPost, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return 0, fmt.Errorf("failed to build task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(HeaderQueue, d.cfg.QueueName)
	req.Header.Set(HeaderTaskName, task.Name)
	req.Header.Set(HeaderRetryCount, strconv.Itoa(attempt))

	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
