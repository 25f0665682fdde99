/*
Package pipeline is the stage authoring surface: the contracts a stage
implements, the futures and slots its outputs travel through, the
builder a generator drains its children into, and the error taxonomy
the engine routes on.

# Stage kinds

A stage type implements exactly one of the three contracts and is
registered under a dotted class path:

	Sync       Run(rc) (any, error)        completes in one handler
	Async      RunAsync(rc) + Callback(cc) parked until a callback
	Generator  Generate(rc, b)             commits a child graph

Optional interfaces refine behavior: OutputDeclarer (strict outputs),
Finalizer (terminal hook), Canceler (cooperative async abort),
RetryConfigurer (per-class backoff), CallbackAccessor and
CallbackTxnDeclarer (callback gating and isolation).

# Futures and slots

Constructing a stage yields a Future exposing its output slots. A
strict future pre-allocates exactly the declared names plus default and
rejects anything else; a loose future materializes names on first
access. Slots are single-assignment cells with identity independent of
value; reading an unfilled slot fails with SlotNotFilledError.

The last child a generator yields inherits the generator's output
slots, which is how a parent's outputs are ultimately produced by its
descendants.

# Generator drain

Generate runs as a pure iteration: it yields every child descriptor
into a Builder with no I/O in between, and the engine commits the
collected graph in one transaction afterwards. The After and InOrder
scopes are builder-local state captured at yield time:

	func (s rollup) Generate(rc *pipeline.RunContext, b *pipeline.Builder) error {
		var parts []*pipeline.Future
		for _, shard := range shards {
			f, err := b.Yield(pipeline.StageCall{
				ClassPath: "rollup.Shard",
				Args:      []any{shard},
			})
			if err != nil {
				return err
			}
			parts = append(parts, f)
		}
		b.After(parts, func() {
			_, _ = b.Yield(pipeline.StageCall{ClassPath: "rollup.Merge"})
		})
		return b.Err()
	}

# Error taxonomy

	RetryError            author-requested retry with backoff
	AbortError            author-requested whole-workflow abort
	SlotNotFilledError    reading or finishing with an unfilled slot
	SlotNotDeclaredError  undeclared output access or fill
	SetupError            start-time misuse, nothing persisted
	ExistsError           idempotence key already names a live workflow
	SerializationError    value cannot enter a parameter record or slot

# See Also

  - pkg/engine for how these contracts are evaluated
  - pkg/types for the persisted record schema
*/
package pipeline
