/*
Package metrics defines Cascade's Prometheus metrics and helpers.

Counters and histograms cover task handler executions and latency,
pipeline lifecycle (started, finalized by status, retries, fan-out),
slot fills, barrier firings and notification sweeps, aborts, cleanups,
payload offloads and API requests. All metrics register at package
init and are served by Handler() on the API server's /metrics.

# Usage

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TaskDuration, "run")
	metrics.TasksTotal.WithLabelValues("run", "ok").Inc()

# See Also

  - pkg/engine and pkg/api for the instrumentation sites
*/
package metrics
