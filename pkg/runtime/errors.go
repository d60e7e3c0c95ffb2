package runtime

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a runtime error for recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may clear on retry,
	// such as a health probe timing out under load.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a state conflict, such as a transition
	// that is not legal from the record's current state.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error, such as a
	// missing dependency or an unknown subsystem id.
	ErrorClassPermanent ErrorClass = "permanent"
)

// RuntimeError is a classified error with subsystem context.
// nolint:revive // RuntimeError is intentionally named to distinguish from standard errors
type RuntimeError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Subsystem is the subsystem id the error relates to, if any.
	Subsystem string `json:"subsystem,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Subsystem != "" {
		return fmt.Sprintf("[%s] %s (subsystem=%s): %s", e.Class, e.Message, e.Subsystem, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func (e *RuntimeError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *RuntimeError {
	return &RuntimeError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *RuntimeError {
	return &RuntimeError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *RuntimeError {
	return &RuntimeError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithSubsystem adds subsystem context to an error.
func (e *RuntimeError) WithSubsystem(id string) *RuntimeError {
	e.Subsystem = id
	return e
}

// WithCode adds an error code to an error.
func (e *RuntimeError) WithCode(code string) *RuntimeError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *RuntimeError) WithDetail(key string, value interface{}) *RuntimeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HasCode reports whether err carries the given runtime error code.
func HasCode(err error, code string) bool {
	var e *RuntimeError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Error codes for the orchestration runtime.
const (
	ErrCodeDependencyMissing    = "DEPENDENCY_MISSING"
	ErrCodeDependencyNotReady   = "DEPENDENCY_NOT_READY"
	ErrCodeCycleDetected        = "CYCLE_DETECTED"
	ErrCodeInitFailed           = "SUBSYSTEM_INIT_FAILED"
	ErrCodeHealthCheckFailed    = "HEALTH_CHECK_FAILED"
	ErrCodeRecoveryFailed       = "RECOVERY_FAILED"
	ErrCodeUnknownSubsystem     = "UNKNOWN_SUBSYSTEM"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeRecoveryInProgress   = "RECOVERY_IN_PROGRESS"
	ErrCodeConsultationRequired = "CONSULTATION_REQUIRED"
)
