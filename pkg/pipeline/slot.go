package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a single-assignment output cell. It has identity (its record
// key) independent of its value; reading value properties before the
// slot is filled fails with SlotNotFilledError.
type Slot struct {
	key      string
	filled   bool
	value    any
	filler   string
	fillTime time.Time

	// external slots point at records owned by another pipeline
	// (inherited outputs); the engine must not create records for them.
	external bool
}

// NewSlot allocates a slot with a fresh key.
func NewSlot() *Slot {
	return &Slot{key: uuid.NewString()}
}

// ExternalSlot wraps a pre-existing slot record key.
func ExternalSlot(key string) *Slot {
	return &Slot{key: key, external: true}
}

// Key returns the slot's record key.
func (s *Slot) Key() string {
	return s.key
}

// External reports whether this slot points at a record owned elsewhere.
func (s *Slot) External() bool {
	return s.external
}

// Filled reports whether the slot has been filled.
func (s *Slot) Filled() bool {
	return s.filled
}

// Value returns the slot's value once filled.
func (s *Slot) Value() (any, error) {
	if !s.filled {
		return nil, &SlotNotFilledError{SlotKey: s.key}
	}
	return s.value, nil
}

// Filler returns the id of the pipeline that filled the slot.
func (s *Slot) Filler() (string, error) {
	if !s.filled {
		return "", &SlotNotFilledError{SlotKey: s.key}
	}
	return s.filler, nil
}

// FillTime returns when the slot was filled.
func (s *Slot) FillTime() (time.Time, error) {
	if !s.filled {
		return time.Time{}, &SlotNotFilledError{SlotKey: s.key}
	}
	return s.fillTime, nil
}

// Resolve marks the slot filled with the given value. The engine calls
// this when reconstructing slots from filled records.
func (s *Slot) Resolve(value any, filler string, fillTime time.Time) {
	s.filled = true
	s.value = value
	s.filler = filler
	s.fillTime = fillTime
}
