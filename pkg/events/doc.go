/*
Package events fans engine lifecycle events out to in-process
subscribers.

The engine publishes an event whenever a pipeline starts, fans out,
retries, finishes or aborts, a slot fills, a barrier fires, an abort is
requested or a cleanup completes. Events carry their workflow
coordinates (root, pipeline, slot) as typed fields.

Delivery is a direct, non-blocking send under a read lock: there is no
delivery goroutine to start or stop, a subscriber that falls behind
loses events instead of slowing the engine, and the broker counts what
it had to drop. Subscriptions can filter by event type.

# Usage

	broker := events.NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(0, events.EventPipelineDone, events.EventPipelineAborted)
	go func() {
		for event := range sub.C {
			fmt.Println(event.Type, event.PipelineID)
		}
	}()

Events are advisory observability signals. Correctness never depends
on them: every durable fact lives in the record store.

# See Also

  - pkg/engine for the publish sites
*/
package events
