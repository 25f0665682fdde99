package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task handler metrics
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_tasks_total",
			Help: "Total number of task handler executions by handler and outcome",
		},
		[]string{"handler", "outcome"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_task_duration_seconds",
			Help:    "Task handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	// Pipeline metrics
	PipelinesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_pipelines_started_total",
			Help: "Total number of root pipelines started",
		},
	)

	PipelinesFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_pipelines_finalized_total",
			Help: "Total number of pipelines reaching a terminal state by status",
		},
		[]string{"status"},
	)

	PipelineRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_pipeline_retries_total",
			Help: "Total number of pipeline retry attempts scheduled",
		},
	)

	ChildrenFannedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_children_fanned_out_total",
			Help: "Total number of child pipelines committed by generators",
		},
	)

	// Slot and barrier metrics
	SlotsFilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_slots_filled_total",
			Help: "Total number of slot fills",
		},
	)

	BarriersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_barriers_fired_total",
			Help: "Total number of barriers fired by purpose",
		},
		[]string{"purpose"},
	)

	NotifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_notify_duration_seconds",
			Help:    "Barrier notification sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotifyContinuations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_notify_continuations_total",
			Help: "Total number of barrier notification continuation tasks emitted",
		},
	)

	// Abort and cleanup metrics
	AbortsRequested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_aborts_requested_total",
			Help: "Total number of root abort requests",
		},
	)

	CleanupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_cleanups_total",
			Help: "Total number of root cleanups completed",
		},
	)

	// Payload metrics
	PayloadsOffloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_payloads_offloaded_total",
			Help: "Total number of payloads offloaded to the blob store",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_api_requests_total",
			Help: "Total number of API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(PipelinesStarted)
	prometheus.MustRegister(PipelinesFinalized)
	prometheus.MustRegister(PipelineRetries)
	prometheus.MustRegister(ChildrenFannedOut)
	prometheus.MustRegister(SlotsFilled)
	prometheus.MustRegister(BarriersFired)
	prometheus.MustRegister(NotifyDuration)
	prometheus.MustRegister(NotifyContinuations)
	prometheus.MustRegister(AbortsRequested)
	prometheus.MustRegister(CleanupsTotal)
	prometheus.MustRegister(PayloadsOffloaded)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
