/*
Package api exposes the engine over HTTP: the task endpoints the queue
posts to, the read-only query API the status UI consumes, and the
health and metrics endpoints.

# Endpoints

Under the configured base path (default /_ah/pipeline):

	POST run, output, finalized, fanout,    task handlers; 403 without
	     fanout_abort, abort, cleanup       queue origin header
	POST callback                           per-stage access class;
	                                        poison tasks acked after
	                                        the queue retry cap
	GET  rootlist, tree, class_paths        status UI queries

Plus /health (liveness) and /metrics (Prometheus) on the same server.

# Error mapping

A handler error becomes a 500 so the queue retries the task; a handler
that drops a task (missing record, stale attempt) returns 200 so the
queue stops. The callback endpoint additionally returns 200 for tasks
that kept failing past the poison threshold, dropping them.

# Usage

	server := api.NewServer(eng, api.Config{})
	if err := server.Start(":8018"); err != nil {
		return err
	}

# See Also

  - pkg/engine for handler semantics
  - pkg/queue for the origin headers and delivery rules
*/
package api
