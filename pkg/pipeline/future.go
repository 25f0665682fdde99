package pipeline

import (
	"sort"

	"github.com/cuemby/cascade/pkg/types"
)

// Future is the handle returned when constructing a stage. It exposes the
// stage's output slots. A future is strict when the stage class declares
// its output names: exactly {default} ∪ declared slots exist and any other
// access fails. Otherwise it is loose: default exists and undeclared names
// materialize lazily on first access.
type Future struct {
	strict bool
	sealed bool
	slots  map[string]*Slot
}

// NewFuture creates a future. A non-nil outputNames list makes it strict.
// Declaring the reserved default name is a setup error.
func NewFuture(outputNames []string) (*Future, error) {
	f := &Future{
		strict: outputNames != nil,
		slots:  map[string]*Slot{types.DefaultOutput: NewSlot()},
	}
	for _, name := range outputNames {
		if name == types.DefaultOutput {
			return nil, Setupf("output name %q is reserved", name)
		}
		if _, dup := f.slots[name]; dup {
			return nil, Setupf("output name %q is declared twice", name)
		}
		f.slots[name] = NewSlot()
	}
	return f, nil
}

// RestoreFuture rebuilds a future from a persisted output-slot mapping.
// Restored futures are sealed: no names materialize lazily.
func RestoreFuture(outputSlots map[string]string) *Future {
	f := &Future{sealed: true, slots: make(map[string]*Slot, len(outputSlots))}
	for name, key := range outputSlots {
		f.slots[name] = ExternalSlot(key)
	}
	return f
}

// Output returns the slot for an output name, materializing it on a
// loose, unsealed future.
func (f *Future) Output(name string) (*Slot, error) {
	if slot, ok := f.slots[name]; ok {
		return slot, nil
	}
	if f.strict || f.sealed {
		return nil, &SlotNotDeclaredError{Name: name}
	}
	slot := NewSlot()
	f.slots[name] = slot
	return slot, nil
}

// Default returns the default output slot.
func (f *Future) Default() *Slot {
	return f.slots[types.DefaultOutput]
}

// Names returns the output names currently known, sorted.
func (f *Future) Names() []string {
	names := make([]string, 0, len(f.slots))
	for name := range f.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OutputKeys snapshots the name → slot key mapping.
func (f *Future) OutputKeys() map[string]string {
	keys := make(map[string]string, len(f.slots))
	for name, slot := range f.slots {
		keys[name] = slot.Key()
	}
	return keys
}

// Inherit re-points this future at pre-allocated slot records, making the
// stage fill its parent's outputs instead of its own. A strict future
// rejects inherited names outside its declared set. The previous slots
// are discarded, so inheritance is only legal while nothing references
// them: the engine applies it to the last child of a generator.
func (f *Future) Inherit(outputSlots map[string]string) error {
	if f.strict {
		for name := range outputSlots {
			if name == types.DefaultOutput {
				continue
			}
			if _, ok := f.slots[name]; !ok {
				return &SlotNotDeclaredError{Name: name}
			}
		}
	}
	slots := make(map[string]*Slot, len(outputSlots))
	for name, key := range outputSlots {
		slots[name] = ExternalSlot(key)
	}
	f.slots = slots
	return nil
}

// Seal freezes the future: further unknown-name lookups fail even when
// the future is loose.
func (f *Future) Seal() {
	f.sealed = true
}
