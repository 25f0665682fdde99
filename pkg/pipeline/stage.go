package pipeline

// The three stage kinds. A registered stage type must implement exactly
// one of SyncStage, AsyncStage or GeneratorStage; the engine dispatches
// on which interface the instance satisfies.

// SyncStage completes within one run handler. The returned value fills
// the default output slot; named outputs are filled through the context.
// Every declared output must be filled when Run returns.
type SyncStage interface {
	Run(rc *RunContext) (any, error)
}

// AsyncStage starts external work in RunAsync and stays in the RUN state
// until a callback completes it. Callback may fill outputs, complete the
// stage or request a retry through its context.
type AsyncStage interface {
	RunAsync(rc *RunContext) error
	Callback(cc *CallbackContext) error
}

// GeneratorStage produces a child graph. Generate drains in one pass with
// no I/O between yields; the engine commits the collected children
// atomically afterwards.
type GeneratorStage interface {
	Generate(rc *RunContext, b *Builder) error
}

// OutputDeclarer makes a stage's future strict: exactly the declared
// names (plus default) exist.
type OutputDeclarer interface {
	OutputNames() []string
}

// Finalizer is called exactly once after a stage reaches a terminal
// state, with WasAborted set on the abort path.
type Finalizer interface {
	Finalized(fc *FinalizeContext) error
}

// Canceler lets an async stage cooperate with abort. Returning true
// confirms the external work was cancelled and the stage may be aborted;
// returning false leaves the stage running until normal completion.
type Canceler interface {
	TryCancel(rc *RunContext) bool
}

// RetryConfigurer overrides the default retry policy for a stage class.
type RetryConfigurer interface {
	RetryPolicy() RetryOptions
}

// RetryOptions control backoff between attempts.
type RetryOptions struct {
	MaxAttempts    int
	BackoffSeconds float64
	BackoffFactor  float64
}

// DefaultRetryOptions returns the engine-wide retry defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxAttempts: 3, BackoffSeconds: 15, BackoffFactor: 2}
}

// Merged fills zero fields of o from other and returns the result.
func (o RetryOptions) Merged(other RetryOptions) RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = other.MaxAttempts
	}
	if o.BackoffSeconds <= 0 {
		o.BackoffSeconds = other.BackoffSeconds
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = other.BackoffFactor
	}
	return o
}

// CallbackAccess gates who may invoke an async stage's callback endpoint.
type CallbackAccess int

const (
	// AccessInternal restricts callbacks to task-queue-originated
	// requests. This is the default.
	AccessInternal CallbackAccess = iota
	// AccessAdmin additionally admits authenticated admin requests.
	AccessAdmin
	// AccessPublic admits any request.
	AccessPublic
)

// CallbackAccessor overrides the default internal-only callback access.
type CallbackAccessor interface {
	CallbackAccess() CallbackAccess
}

// CallbackMode declares the transaction the engine wraps a callback in.
type CallbackMode int

const (
	// CallbackNoTxn runs the callback without a transaction. Default,
	// to avoid unintended write amplification.
	CallbackNoTxn CallbackMode = iota
	// CallbackSingleTxn wraps the callback in a single-group transaction.
	CallbackSingleTxn
	// CallbackCrossTxn wraps the callback in a cross-group transaction.
	CallbackCrossTxn
)

// CallbackTxnDeclarer overrides the default no-transaction callback mode.
type CallbackTxnDeclarer interface {
	CallbackMode() CallbackMode
}

// StageCall names a stage class and its arguments. Argument values may be
// immediate values, *Slot or *Future; slots and futures become dataflow
// dependencies of the child.
type StageCall struct {
	ClassPath string
	Args      []any
	Kwargs    map[string]any

	// Retry overrides the class and engine retry defaults when set.
	Retry *RetryOptions

	// Target optionally routes the stage's tasks to a specific backend.
	Target string
}
