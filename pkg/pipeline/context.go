package pipeline

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Fill is one buffered output-slot write requested by stage code. The
// engine applies all fills of a handler invocation in one transaction.
type Fill struct {
	Name    string
	SlotKey string
	Value   any
}

// StatusUpdate is an advisory human-facing status for a pipeline.
type StatusUpdate struct {
	Message    string
	ConsoleURL string
	LinkNames  []string
	LinkURLs   []string
}

// CallbackRequest is a buffered request to enqueue a callback task for
// an async stage.
type CallbackRequest struct {
	Params url.Values
	Delay  time.Duration
}

// RunContext carries a stage's dereferenced arguments and buffered
// side effects through one run handler invocation. It is not safe for
// use after the handler returns.
type RunContext struct {
	ctx    context.Context
	logger zerolog.Logger

	pipelineID string
	rootID     string
	classPath  string
	attempt    int
	maxAttempt int

	args    []any
	kwargs  map[string]any
	outputs *Future

	fills     []Fill
	status    *StatusUpdate
	callbacks []CallbackRequest
}

// RunContextConfig is the engine-facing constructor input.
type RunContextConfig struct {
	Ctx         context.Context
	Logger      zerolog.Logger
	PipelineID  string
	RootID      string
	ClassPath   string
	Attempt     int
	MaxAttempts int
	Args        []any
	Kwargs      map[string]any
	Outputs     *Future
}

// NewRunContext builds a run context. The outputs future is sealed.
func NewRunContext(cfg RunContextConfig) *RunContext {
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	if cfg.Outputs != nil {
		cfg.Outputs.Seal()
	}
	return &RunContext{
		ctx:        cfg.Ctx,
		logger:     cfg.Logger,
		pipelineID: cfg.PipelineID,
		rootID:     cfg.RootID,
		classPath:  cfg.ClassPath,
		attempt:    cfg.Attempt,
		maxAttempt: cfg.MaxAttempts,
		args:       cfg.Args,
		kwargs:     cfg.Kwargs,
		outputs:    cfg.Outputs,
	}
}

// Context returns the handler's context.
func (rc *RunContext) Context() context.Context {
	return rc.ctx
}

// Log returns a logger scoped to this pipeline.
func (rc *RunContext) Log() *zerolog.Logger {
	return &rc.logger
}

// PipelineID returns the id of the running stage.
func (rc *RunContext) PipelineID() string {
	return rc.pipelineID
}

// RootPipelineID returns the id of the workflow root.
func (rc *RunContext) RootPipelineID() string {
	return rc.rootID
}

// ClassPath returns the running stage's registered class path.
func (rc *RunContext) ClassPath() string {
	return rc.classPath
}

// Attempt returns the zero-based attempt number of this invocation.
func (rc *RunContext) Attempt() int {
	return rc.attempt
}

// MaxAttempts returns the attempt limit for this stage.
func (rc *RunContext) MaxAttempts() int {
	return rc.maxAttempt
}

// Args returns the positional arguments, slot references dereferenced.
func (rc *RunContext) Args() []any {
	return rc.args
}

// Arg returns the i-th positional argument, nil when out of range.
func (rc *RunContext) Arg(i int) any {
	if i < 0 || i >= len(rc.args) {
		return nil
	}
	return rc.args[i]
}

// Kwargs returns the keyword arguments, slot references dereferenced.
func (rc *RunContext) Kwargs() map[string]any {
	return rc.kwargs
}

// Kwarg returns a keyword argument by name.
func (rc *RunContext) Kwarg(name string) (any, bool) {
	v, ok := rc.kwargs[name]
	return v, ok
}

// Outputs returns the stage's own output slots.
func (rc *RunContext) Outputs() *Future {
	return rc.outputs
}

// Fill buffers a write of a named output slot. Filling a name outside
// the stage's output slots fails with SlotNotDeclaredError.
func (rc *RunContext) Fill(name string, value any) error {
	slot, err := rc.outputs.Output(name)
	if err != nil {
		return &SlotNotDeclaredError{Name: name, ClassPath: rc.classPath}
	}
	rc.fills = append(rc.fills, Fill{Name: name, SlotKey: slot.Key(), Value: value})
	return nil
}

// SetStatus buffers an advisory status update.
func (rc *RunContext) SetStatus(update StatusUpdate) {
	copied := update
	rc.status = &copied
}

// EnqueueCallback buffers a callback task for this async stage, delivered
// after the stage's state transition commits.
func (rc *RunContext) EnqueueCallback(params url.Values, delay time.Duration) {
	copied := url.Values{}
	for key, values := range params {
		copied[key] = append([]string(nil), values...)
	}
	rc.callbacks = append(rc.callbacks, CallbackRequest{Params: copied, Delay: delay})
}

// Fills returns the buffered output writes.
func (rc *RunContext) Fills() []Fill {
	return rc.fills
}

// Status returns the buffered status update, if any.
func (rc *RunContext) Status() *StatusUpdate {
	return rc.status
}

// Callbacks returns the buffered callback requests.
func (rc *RunContext) Callbacks() []CallbackRequest {
	return rc.callbacks
}

// CallbackContext carries an external event into an async stage.
type CallbackContext struct {
	ctx    context.Context
	logger zerolog.Logger

	pipelineID string
	classPath  string
	params     url.Values
	outputs    *Future

	fills      []Fill
	completed  bool
	completeV  any
	retryMsg   *string
	statusUpd  *StatusUpdate
}

// CallbackContextConfig is the engine-facing constructor input.
type CallbackContextConfig struct {
	Ctx        context.Context
	Logger     zerolog.Logger
	PipelineID string
	ClassPath  string
	Params     url.Values
	Outputs    *Future
}

// NewCallbackContext builds a callback context.
func NewCallbackContext(cfg CallbackContextConfig) *CallbackContext {
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	if cfg.Outputs != nil {
		cfg.Outputs.Seal()
	}
	return &CallbackContext{
		ctx:        cfg.Ctx,
		logger:     cfg.Logger,
		pipelineID: cfg.PipelineID,
		classPath:  cfg.ClassPath,
		params:     cfg.Params,
		outputs:    cfg.Outputs,
	}
}

// Context returns the handler's context.
func (cc *CallbackContext) Context() context.Context {
	return cc.ctx
}

// Log returns a logger scoped to this pipeline.
func (cc *CallbackContext) Log() *zerolog.Logger {
	return &cc.logger
}

// PipelineID returns the id of the stage being called back.
func (cc *CallbackContext) PipelineID() string {
	return cc.pipelineID
}

// Params returns the user parameters of the callback request.
func (cc *CallbackContext) Params() url.Values {
	return cc.params
}

// Param returns a single callback parameter value.
func (cc *CallbackContext) Param(name string) string {
	return cc.params.Get(name)
}

// Outputs returns the stage's output slots.
func (cc *CallbackContext) Outputs() *Future {
	return cc.outputs
}

// Fill buffers a write of a named output slot.
func (cc *CallbackContext) Fill(name string, value any) error {
	slot, err := cc.outputs.Output(name)
	if err != nil {
		return &SlotNotDeclaredError{Name: name, ClassPath: cc.classPath}
	}
	cc.fills = append(cc.fills, Fill{Name: name, SlotKey: slot.Key(), Value: value})
	return nil
}

// Complete buffers completion of the async stage with a default value.
func (cc *CallbackContext) Complete(value any) {
	cc.completed = true
	cc.completeV = value
}

// Retry buffers a user-driven retry of the async stage.
func (cc *CallbackContext) Retry(message string) {
	cc.retryMsg = &message
}

// SetStatus buffers an advisory status update.
func (cc *CallbackContext) SetStatus(update StatusUpdate) {
	copied := update
	cc.statusUpd = &copied
}

// Fills returns the buffered output writes.
func (cc *CallbackContext) Fills() []Fill {
	return cc.fills
}

// Completed reports whether Complete was called, and its value.
func (cc *CallbackContext) Completed() (bool, any) {
	return cc.completed, cc.completeV
}

// RetryRequested reports whether Retry was called, and its message.
func (cc *CallbackContext) RetryRequested() (bool, string) {
	if cc.retryMsg == nil {
		return false, ""
	}
	return true, *cc.retryMsg
}

// Status returns the buffered status update, if any.
func (cc *CallbackContext) Status() *StatusUpdate {
	return cc.statusUpd
}

// FinalizeContext carries terminal-state information into a stage's
// Finalized hook.
type FinalizeContext struct {
	ctx    context.Context
	logger zerolog.Logger

	pipelineID string
	wasAborted bool
	outputs    *Future
}

// FinalizeContextConfig is the engine-facing constructor input.
type FinalizeContextConfig struct {
	Ctx        context.Context
	Logger     zerolog.Logger
	PipelineID string
	WasAborted bool
	Outputs    *Future
}

// NewFinalizeContext builds a finalize context.
func NewFinalizeContext(cfg FinalizeContextConfig) *FinalizeContext {
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	return &FinalizeContext{
		ctx:        cfg.Ctx,
		logger:     cfg.Logger,
		pipelineID: cfg.PipelineID,
		wasAborted: cfg.WasAborted,
		outputs:    cfg.Outputs,
	}
}

// Context returns the handler's context.
func (fc *FinalizeContext) Context() context.Context {
	return fc.ctx
}

// Log returns a logger scoped to this pipeline.
func (fc *FinalizeContext) Log() *zerolog.Logger {
	return &fc.logger
}

// PipelineID returns the id of the finalizing stage.
func (fc *FinalizeContext) PipelineID() string {
	return fc.pipelineID
}

// WasAborted reports whether the stage reached its terminal state via
// abort rather than normal completion.
func (fc *FinalizeContext) WasAborted() bool {
	return fc.wasAborted
}

// Outputs returns the stage's output slots, resolved where filled.
func (fc *FinalizeContext) Outputs() *Future {
	return fc.outputs
}
