package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPublishDeliversToSubscribers tests basic fan-out
func TestPublishDeliversToSubscribers(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(4)
	defer sub.Close()

	broker.Publish(Event{Type: EventSlotFilled, SlotID: "s-1"})

	event := <-sub.C
	assert.Equal(t, EventSlotFilled, event.Type)
	assert.Equal(t, "s-1", event.SlotID)
	assert.False(t, event.Time.IsZero(), "publish must stamp the time")
}

// TestSubscribeFilter tests type-filtered subscriptions
func TestSubscribeFilter(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(4, EventPipelineDone, EventPipelineAborted)
	defer sub.Close()

	broker.Publish(Event{Type: EventSlotFilled})
	broker.Publish(Event{Type: EventPipelineDone, PipelineID: "p-1"})

	event := <-sub.C
	assert.Equal(t, EventPipelineDone, event.Type)
	assert.Empty(t, sub.C, "filtered-out event must not be delivered")
}

// TestPublishDropsWhenFull tests the non-blocking delivery contract
func TestPublishDropsWhenFull(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(1)
	defer sub.Close()

	broker.Publish(Event{Type: EventPipelineRun})
	broker.Publish(Event{Type: EventPipelineRun})

	assert.Equal(t, uint64(1), broker.Dropped())
	// The first event is still intact.
	event := <-sub.C
	assert.Equal(t, EventPipelineRun, event.Type)
}

// TestCloseDetaches tests that closed subscriptions stop receiving
func TestCloseDetaches(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(4)
	sub.Close()
	// Closing twice is safe.
	sub.Close()

	broker.Publish(Event{Type: EventPipelineRun})

	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, broker.Dropped())
}

// TestBrokerClose tests closing every subscription at once
func TestBrokerClose(t *testing.T) {
	broker := NewBroker()
	first := broker.Subscribe(1)
	second := broker.Subscribe(1)

	broker.Close()

	_, open := <-first.C
	require.False(t, open)
	_, open = <-second.C
	require.False(t, open)
}
