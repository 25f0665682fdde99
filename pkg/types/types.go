package types

import (
	"strings"
	"time"

	"github.com/cuemby/cascade/pkg/codec"
)

// PipelineStatus represents the current state of a pipeline record
type PipelineStatus string

const (
	PipelineWaiting PipelineStatus = "waiting"
	PipelineRun     PipelineStatus = "run"
	PipelineDone    PipelineStatus = "done"
	PipelineAborted PipelineStatus = "aborted"
)

// Terminal reports whether the status permits no further transitions.
func (s PipelineStatus) Terminal() bool {
	return s == PipelineDone || s == PipelineAborted
}

// SlotStatus represents the current state of a slot record
type SlotStatus string

const (
	SlotWaiting SlotStatus = "waiting"
	SlotFilled  SlotStatus = "filled"
)

// BarrierStatus represents the current state of a barrier record
type BarrierStatus string

const (
	BarrierWaiting BarrierStatus = "waiting"
	BarrierFired   BarrierStatus = "fired"
)

// BarrierPurpose selects which transition a barrier triggers on its target
type BarrierPurpose string

const (
	PurposeStart    BarrierPurpose = "start"
	PurposeFinalize BarrierPurpose = "finalize"
	PurposeAbort    BarrierPurpose = "abort"
)

// DefaultOutput is the output slot every pipeline has. It may not appear in
// a stage's declared output names.
const DefaultOutput = "default"

// PipelineRecord is the durable state of one stage instance
type PipelineRecord struct {
	ID             string
	ClassPath      string
	RootPipelineID string
	IsRootPipeline bool
	Params         codec.Payload
	FannedOut      []string
	Status         PipelineStatus

	CurrentAttempt int
	MaxAttempts    int
	NextRetryTime  time.Time
	RetryMessage   string

	StartTime     time.Time
	FinalizedTime time.Time

	// Only meaningful on root pipelines
	AbortMessage   string
	AbortRequested bool
}

// SlotRecord is a single-assignment output cell
type SlotRecord struct {
	ID             string
	RootPipelineID string
	Filler         string
	Value          codec.Payload
	Status         SlotStatus
	FillTime       time.Time
}

// BarrierRecord fires a transition on its target pipeline when every
// blocking slot is filled. Keyed by (target, purpose); once fired the
// status is sticky and the blocking set is immutable.
type BarrierRecord struct {
	TargetPipelineID string
	Purpose          BarrierPurpose
	RootPipelineID   string
	BlockingSlots    []string
	Status           BarrierStatus
	TriggerTime      time.Time
}

// Key returns the composite store key for this barrier.
func (b *BarrierRecord) Key() string {
	return BarrierKey(b.TargetPipelineID, b.Purpose)
}

// BarrierKey builds the composite store key for a (target, purpose) pair.
func BarrierKey(targetID string, purpose BarrierPurpose) string {
	return targetID + "/" + string(purpose)
}

// BarrierIndexEntry records that a slot blocks a barrier. Entries are
// written in the same transaction as the barrier they index so that a
// prefix scan by slot id is strongly consistent with barrier creation.
type BarrierIndexEntry struct {
	SlotID           string
	TargetPipelineID string
	Purpose          BarrierPurpose
	RootPipelineID   string
}

// Key returns the composite store key for this index entry. The slot id
// leads so all barriers blocked by one slot share a scan prefix.
func (e *BarrierIndexEntry) Key() string {
	return e.SlotID + "/" + e.TargetPipelineID + "/" + string(e.Purpose)
}

// BarrierIndexPrefix returns the scan prefix covering every index entry
// for the given slot.
func BarrierIndexPrefix(slotID string) string {
	return slotID + "/"
}

// ParseBarrierIndexKey splits a barrier index key back into its parts.
func ParseBarrierIndexKey(key string) (slotID, targetID string, purpose BarrierPurpose, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], BarrierPurpose(parts[2]), true
}

// StatusRecord holds the advisory, human-facing status of a pipeline.
// The engine never consults it.
type StatusRecord struct {
	PipelineID     string
	RootPipelineID string
	Message        string
	ConsoleURL     string
	LinkNames      []string
	LinkURLs       []string
	StatusTime     time.Time
}
