package pipeline

import "fmt"

// RetryError asks the engine to re-run the current attempt after backoff.
// Stage authors return it from Run, RunAsync or Callback.
type RetryError struct {
	Message string
}

func (e *RetryError) Error() string {
	return "retry requested: " + e.Message
}

// Retryf builds a RetryError.
func Retryf(format string, args ...any) error {
	return &RetryError{Message: fmt.Sprintf(format, args...)}
}

// AbortError aborts the whole workflow the stage belongs to.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string {
	return "abort requested: " + e.Message
}

// Abortf builds an AbortError.
func Abortf(format string, args ...any) error {
	return &AbortError{Message: fmt.Sprintf(format, args...)}
}

// SlotNotFilledError is returned when reading an unfilled slot, or when a
// stage finishes with a declared output still waiting.
type SlotNotFilledError struct {
	SlotKey string
	Name    string
}

func (e *SlotNotFilledError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("output slot %q (%s) has not been filled", e.Name, e.SlotKey)
	}
	return fmt.Sprintf("slot %s has not been filled", e.SlotKey)
}

// SlotNotDeclaredError is returned on access to an output name a strict
// future does not declare, or on filling a name absent from a stage's
// output slots.
type SlotNotDeclaredError struct {
	Name      string
	ClassPath string
}

func (e *SlotNotDeclaredError) Error() string {
	if e.ClassPath != "" {
		return fmt.Sprintf("output %q is not declared by %s", e.Name, e.ClassPath)
	}
	return fmt.Sprintf("output %q is not declared", e.Name)
}

// SetupError reports misuse at start time. Nothing is persisted when it
// is returned.
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return "pipeline setup error: " + e.Message
}

// Setupf builds a SetupError.
func Setupf(format string, args ...any) error {
	return &SetupError{Message: fmt.Sprintf(format, args...)}
}

// ExistsError reports a start with an idempotence key that already names
// a live pipeline.
type ExistsError struct {
	PipelineID string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("pipeline %s already exists", e.PipelineID)
}

// SerializationError wraps a value that cannot be serialized into a
// parameter record or slot.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "serialization failed: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
