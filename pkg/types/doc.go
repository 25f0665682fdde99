/*
Package types defines the durable record schema of the workflow engine:
pipelines, slots, barriers, barrier index entries, status records and
the serialized parameter record, together with their state constants.

# Record kinds

	PipelineRecord     one per stage; WAITING → RUN → DONE / ABORTED
	SlotRecord         single-assignment output cell; WAITING → FILLED
	BarrierRecord      latch on a slot set; WAITING → FIRED (sticky)
	BarrierIndexEntry  slot → dependent barrier, for consistent fan-out
	StatusRecord       advisory human-facing status; never consulted

A root pipeline transitively owns every record whose RootPipelineID
points at it; cleanup deletes exactly that closure. Root ids are opaque
key strings, never ownership references, so the root's self-pointer
introduces no cycle.

# Parameter record

ParamsRecord is the serialized argument dictionary persisted on every
pipeline. Its leaves are tagged either immediate values (already in
codec wire form) or slot references; SlotRefs collects the referenced
slot keys that become the stage's START-barrier blocking set.

# See Also

  - pkg/storage for how these records persist
  - pkg/engine for the state machines that govern them
*/
package types
