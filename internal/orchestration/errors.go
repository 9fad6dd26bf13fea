package orchestration

import "fmt"

// ValidationError reports rejected input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an identifier unknown to both registry and store
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidStateError reports an operation rejected by the session's lifecycle
// state. Retryable marks conflicts expected to clear on their own, such as a
// close attempted while tasks are still in flight.
type InvalidStateError struct {
	Reason    string
	Retryable bool
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid session state: %s", e.Reason)
}

// StorageError reports a durable store failure. The registry is left
// consistent with what was actually committed before the failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// OrchestrationError wraps a task-execution failure after the outcome has
// been recorded against the owning task.
type OrchestrationError struct {
	SessionID    string
	TaskID       string
	AnalysisType string
	Err          error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("task %s (%s) in session %s failed: %v", e.TaskID, e.AnalysisType, e.SessionID, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }
