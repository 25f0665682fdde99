/*
Package engine owns every state transition of the workflow execution
model: starting roots, running stages, filling slots, firing barriers,
retrying, aborting and cleaning up. All transitions execute inside
short-lived, idempotent task handlers driven by an at-least-once task
queue; no handler ever blocks waiting on another.

# Architecture

	┌──────────────────── EXECUTION ENGINE ────────────────────┐
	│                                                           │
	│   Task queue (at-least-once HTTP POSTs)                   │
	│       │                                                   │
	│       ▼                                                   │
	│  ┌────────────────────────────────────────────┐           │
	│  │              Handlers                      │           │
	│  │  run ──────── evaluate stage contract      │           │
	│  │  output ───── notify dependent barriers    │           │
	│  │  finalized ── hook + WAITING/RUN → DONE    │           │
	│  │  fanout ───── first run of free children   │           │
	│  │  fanout_abort batch abort sweep            │           │
	│  │  abort ────── per-pipeline abort           │           │
	│  │  callback ─── external event → async stage │           │
	│  │  cleanup ──── delete root's record closure │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │       Store transactions (pkg/storage)     │           │
	│  │  - state-guarded writes                    │           │
	│  │  - child graph committed atomically        │           │
	│  │  - slot fill / barrier fire are CAS        │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Emitted tasks (pkg/queue)          │           │
	│  │  - deterministic names for de-duplication  │           │
	│  │  - attempt number carried on run tasks     │           │
	│  │  - continuations for batched sweeps        │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Execution model

A workflow is a tree of pipelines. Starting a root persists its record,
its output slots and its barriers, then enqueues the first run task.
Running a stage either fills slots (sync, childless generator), parks
the stage until a callback (async), or commits a child graph in one
transaction (generator). Filling a slot enqueues an output task whose
barrier-notification sweep fires any barrier whose blocking slots are
all filled, which in turn enqueues the target's run, finalized or abort
task. Suspension between stages is represented purely as data: a
waiting barrier.

# Idempotence

Correctness under re-delivery rests on three rules:

  - State-guarded transitions: every write transaction re-loads the
    record and asserts the source state, so duplicates are no-ops.
  - Deterministic task names: tasks are named from (pipeline, purpose,
    attempt) so re-enqueues collapse in the queue.
  - Attempt fencing: run tasks carry the attempt they were issued for
    and are dropped when the record has moved on.

A missing record on handler load means the task raced cleanup; the
handler drops it silently.

# Retry and abort

A failing stage schedules its next attempt at

	now + backoff_seconds × backoff_factor^attempt

and aborts the whole workflow with its last retry message once attempts
are exhausted. Aborting a root sets a sticky flag checked first by
every run handler (the fast path) and sweeps the tree with abort tasks
in batches (the thorough path). Running async stages abort only when
their TryCancel confirms cancellation.

# Usage

	eng := engine.New(store, blobs, q, registry, broker, engine.Config{})

	rootID, err := eng.Start(ctx, pipeline.StageCall{
		ClassPath: "billing.NightlyRollup",
		Args:      []any{day},
	}, engine.StartOptions{})

	tree, err := eng.Tree(ctx, rootID)
	err = eng.AbortRoot(ctx, rootID, "operator requested")
	err = eng.RequestCleanup(ctx, rootID)

# Integration Points

This package integrates with:

  - pkg/storage: record persistence and transactions
  - pkg/queue: task emission and de-duplication
  - pkg/pipeline: stage contracts, futures, builders, error taxonomy
  - pkg/codec + pkg/blob: payload serialization and offloading
  - pkg/api: HTTP adaptation of the handlers and query API
  - pkg/events + pkg/metrics: observability

# See Also

  - pkg/pipeline for the stage authoring surface
  - pkg/storage for the record schema's persistence
*/
package engine
