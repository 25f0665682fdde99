package storage

import (
	"errors"

	"github.com/cuemby/cascade/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist. Task
// handlers treat it as a signal to drop the task.
var ErrNotFound = errors.New("record not found")

// Tx is the set of record operations available inside one atomic
// transaction. Every multi-record mutation the engine performs (child
// graph commit, barrier firing, slot fill, attempt increment) runs
// against a Tx.
type Tx interface {
	GetPipeline(id string) (*types.PipelineRecord, error)
	PutPipeline(record *types.PipelineRecord) error
	DeletePipeline(id string) error

	GetSlot(id string) (*types.SlotRecord, error)
	PutSlot(record *types.SlotRecord) error
	DeleteSlot(id string) error

	GetBarrier(targetID string, purpose types.BarrierPurpose) (*types.BarrierRecord, error)
	PutBarrier(record *types.BarrierRecord) error
	DeleteBarrier(targetID string, purpose types.BarrierPurpose) error

	PutBarrierIndex(entry *types.BarrierIndexEntry) error
	DeleteBarrierIndex(key string) error

	GetStatus(pipelineID string) (*types.StatusRecord, error)
	PutStatus(record *types.StatusRecord) error
	DeleteStatus(pipelineID string) error
}

// Store defines the interface for workflow state storage.
// BoltStore implements it.
type Store interface {
	// Single-record reads outside a transaction
	GetPipeline(id string) (*types.PipelineRecord, error)
	GetSlot(id string) (*types.SlotRecord, error)
	GetBarrier(targetID string, purpose types.BarrierPurpose) (*types.BarrierRecord, error)
	GetStatus(pipelineID string) (*types.StatusRecord, error)

	// Indexed views
	ListRootPipelines(classPath string, cursor string, count int) ([]*types.PipelineRecord, string, error)
	ListPipelineIDsByRoot(rootID string, cursor string, limit int) ([]string, string, error)
	ListPipelinesByRoot(rootID string) ([]*types.PipelineRecord, error)
	ListSlotsByRoot(rootID string) ([]*types.SlotRecord, error)
	ListBarriersByRoot(rootID string) ([]*types.BarrierRecord, error)
	ListStatusByRoot(rootID string) ([]*types.StatusRecord, error)
	ListBarrierIndexKeysByRoot(rootID string) ([]string, error)

	// ScanBarrierIndex walks index entries for one slot in key order,
	// resuming after cursor when set. A non-empty next cursor means
	// more entries remain.
	ScanBarrierIndex(slotID string, cursor string, limit int) ([]*types.BarrierIndexEntry, string, error)

	// Atomically runs fn inside one strongly consistent transaction.
	// All writes commit together or not at all.
	Atomically(fn func(tx Tx) error) error

	// Utility
	Close() error
}
