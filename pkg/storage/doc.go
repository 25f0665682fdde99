/*
Package storage provides BoltDB-backed state persistence for Cascade's
workflow records.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for pipelines, slots,
barriers, barrier indexes and status records. All data is serialized as
JSON and stored in separate buckets for efficient querying and
isolation.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltStore                       │           │
	│  │  - File: <dataDir>/cascade.db              │           │
	│  │  - Format: B+tree with MVCC                │           │
	│  │  - Transactions: ACID with fsync           │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Bucket Structure              │           │
	│  │  ┌──────────────────────────────────┐      │           │
	│  │  │ pipelines     (pipeline id)      │      │           │
	│  │  │ slots         (slot id)          │      │           │
	│  │  │ barriers      (target/purpose)   │      │           │
	│  │  │ barrier_index (slot/target/purp) │      │           │
	│  │  │ status        (pipeline id)      │      │           │
	│  │  └──────────────────────────────────┘      │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Transaction Management              │           │
	│  │  - Read: db.View() - concurrent reads      │           │
	│  │  - Write: db.Update() - serialized writes  │           │
	│  │  - Atomically(): engine multi-record txns  │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store using BoltDB
  - Single database file per engine node
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Tx:
  - Typed record operations bound to one write transaction
  - Every engine multi-record mutation (child graph commit, barrier
    firing, slot fill, attempt increment) runs through Atomically
  - State-guarded writes re-load inside the transaction

Barrier index:
  - Key layout <slot_id>/<target_id>/<purpose> puts every barrier
    blocked by one slot behind a common prefix
  - ScanBarrierIndex is a cursor prefix scan with an opaque resume
    cursor for batched notification sweeps
  - Entries are written in the same transaction as their barrier, so a
    scan after a slot fill always observes every dependent barrier

# Design Patterns

Upsert Pattern:
  - Put operations overwrite existing keys atomically
  - No separate "exists" check needed

Idempotent Deletes:
  - Delete returns no error if the key doesn't exist
  - Safe to call multiple times; cleanup relies on it

Filter Pattern:
  - ByRoot views scan and filter in memory
  - Workflow closures are small relative to the bucket

Error Wrapping:
  - Missing records wrap ErrNotFound for errors.Is classification
  - Handlers drop tasks on ErrNotFound instead of failing

# Usage

	store, err := storage.NewBoltStore("/var/lib/cascade")
	if err != nil {
		return err
	}
	defer store.Close()

	record, err := store.GetPipeline(id)

	err = store.Atomically(func(tx storage.Tx) error {
		cur, err := tx.GetPipeline(id)
		if err != nil {
			return err
		}
		if cur.Status != types.PipelineWaiting {
			return nil
		}
		cur.Status = types.PipelineRun
		return tx.PutPipeline(cur)
	})

# See Also

  - pkg/types for all record definitions
  - pkg/engine for the transactions that matter for correctness
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
