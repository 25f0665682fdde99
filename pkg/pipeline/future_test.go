package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLooseFuture tests lazy slot materialization
func TestLooseFuture(t *testing.T) {
	future, err := NewFuture(nil)
	require.NoError(t, err)

	def := future.Default()
	require.NotNil(t, def)
	assert.False(t, def.Filled())

	stuff, err := future.Output("stuff")
	require.NoError(t, err)
	assert.NotEqual(t, def.Key(), stuff.Key())

	// A second lookup returns the same slot.
	again, err := future.Output("stuff")
	require.NoError(t, err)
	assert.Equal(t, stuff.Key(), again.Key())
}

// TestStrictFuture tests declared-name enforcement
func TestStrictFuture(t *testing.T) {
	future, err := NewFuture([]string{"one", "two"})
	require.NoError(t, err)

	one, err := future.Output("one")
	require.NoError(t, err)
	two, err := future.Output("two")
	require.NoError(t, err)
	def := future.Default()

	assert.NotEqual(t, one.Key(), def.Key())
	assert.NotEqual(t, two.Key(), def.Key())
	assert.NotEqual(t, one.Key(), two.Key())

	_, err = future.Output("three")
	var notDeclared *SlotNotDeclaredError
	require.ErrorAs(t, err, &notDeclared)
	assert.Equal(t, "three", notDeclared.Name)
}

// TestReservedOutputName tests that declaring default is rejected
func TestReservedOutputName(t *testing.T) {
	_, err := NewFuture([]string{"default"})
	var setup *SetupError
	assert.ErrorAs(t, err, &setup)
}

func TestDuplicateOutputName(t *testing.T) {
	_, err := NewFuture([]string{"one", "one"})
	var setup *SetupError
	assert.ErrorAs(t, err, &setup)
}

// TestSealedFuture tests that sealed futures stop materializing names
func TestSealedFuture(t *testing.T) {
	future, err := NewFuture(nil)
	require.NoError(t, err)
	future.Seal()

	_, err = future.Output("anything")
	var notDeclared *SlotNotDeclaredError
	assert.ErrorAs(t, err, &notDeclared)
}

// TestInheritOutputs tests re-pointing a loose future
func TestInheritOutputs(t *testing.T) {
	future, err := NewFuture(nil)
	require.NoError(t, err)

	inherited := map[string]string{
		"default": "slot-default",
		"one":     "slot-one",
		"two":     "slot-two",
	}
	require.NoError(t, future.Inherit(inherited))

	for name, key := range inherited {
		slot, err := future.Output(name)
		require.NoError(t, err)
		assert.Equal(t, key, slot.Key())
		assert.True(t, slot.External())
	}
}

// TestInheritOutputsStrict tests the declared-subset check
func TestInheritOutputsStrict(t *testing.T) {
	future, err := NewFuture([]string{"one", "two", "three"})
	require.NoError(t, err)

	require.NoError(t, future.Inherit(map[string]string{
		"default": "slot-default",
		"one":     "slot-one",
	}))

	slot, err := future.Output("one")
	require.NoError(t, err)
	assert.Equal(t, "slot-one", slot.Key())
}

// TestInheritOutputsStrictUndeclared tests rejecting undeclared names
func TestInheritOutputsStrictUndeclared(t *testing.T) {
	future, err := NewFuture([]string{"one", "two", "three"})
	require.NoError(t, err)

	err = future.Inherit(map[string]string{
		"default": "slot-default",
		"five":    "slot-five",
	})
	var notDeclared *SlotNotDeclaredError
	require.ErrorAs(t, err, &notDeclared)
	assert.Equal(t, "five", notDeclared.Name)
}

// TestSlotReadsBeforeFill tests SlotNotFilledError on every accessor
func TestSlotReadsBeforeFill(t *testing.T) {
	slot := NewSlot()

	var notFilled *SlotNotFilledError

	_, err := slot.Value()
	assert.ErrorAs(t, err, &notFilled)

	_, err = slot.Filler()
	assert.ErrorAs(t, err, &notFilled)

	_, err = slot.FillTime()
	assert.ErrorAs(t, err, &notFilled)
}

// TestSlotResolve tests reading a resolved slot
func TestSlotResolve(t *testing.T) {
	slot := NewSlot()
	slot.Resolve("value", "p-1", testTime())

	assert.True(t, slot.Filled())

	value, err := slot.Value()
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	filler, err := slot.Filler()
	require.NoError(t, err)
	assert.Equal(t, "p-1", filler)
}
