/*
Package queue defines the task contract driving the engine and its two
implementations: an HTTP dispatcher for production and an in-memory
queue for deterministic tests.

# Task contract

A task is a named HTTP POST with a form-encoded body, delivered to a
task endpoint under the engine's base path at least once, no earlier
than its ETA. Names de-duplicate: adding a task whose name was already
accepted fails with ErrTaskExists, which every caller tolerates. The
engine derives names from the transition a task drives, so re-enqueues
collapse instead of forking work.

	┌─────────────────── TASK DELIVERY ────────────────────┐
	│                                                      │
	│  engine ──Add──▶ Dispatcher ──POST──▶ api endpoints  │
	│                   │    │                             │
	│                   │    ├─ ETA delay                  │
	│                   │    ├─ origin headers             │
	│                   │    └─ retry w/ backoff, then drop│
	│                   └─ name de-duplication             │
	└──────────────────────────────────────────────────────┘

Origin headers (X-Cascade-Queue, X-Cascade-Task-Name,
X-Cascade-Task-Retry-Count) mark queue-originated requests; task
endpoints reject requests without them.

# Delivery semantics

Delivery is at-least-once: a non-2xx response is retried with
exponential backoff up to a retry cap, then dropped. Handler
idempotence, not delivery uniqueness, is what keeps the engine correct;
the dispatcher only bounds duplication.

# Testing

Memory records tasks instead of delivering them. Tests pop tasks in
ETA-then-FIFO order and hand them to the engine directly, which makes
whole-workflow execution single-threaded and reproducible.

# See Also

  - pkg/engine for task production and handler idempotence
  - pkg/api for the receiving endpoints
*/
package queue
