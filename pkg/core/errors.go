package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: no_matching_binding, pending_step, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError carrying the same code, so copies made with
// WithCause or WithMessage still satisfy errors.Is against the sentinels.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Business outcomes, recovered by the test runner
	ErrNoMatchingBinding = &ExecutionError{
		Category: ErrCategoryNoMatch,
		Code:     "no_matching_binding",
		Message:  "no matching step definition found",
	}
	ErrAmbiguousBinding = &ExecutionError{
		Category: ErrCategoryAmbiguous,
		Code:     "ambiguous_binding",
		Message:  "ambiguous step definitions found",
	}
	ErrArgumentConversion = &ExecutionError{
		Category: ErrCategoryConversion,
		Code:     "argument_conversion",
		Message:  "argument conversion failed",
	}
	ErrBindingInvocation = &ExecutionError{
		Category: ErrCategoryInvocation,
		Code:     "binding_invocation",
		Message:  "step binding failed",
	}
	ErrPendingStep = &ExecutionError{
		Category: ErrCategoryPending,
		Code:     "pending_step",
		Message:  "step definition is pending",
	}

	// Host errors, surfaced to the caller
	ErrContextLifecycle = &ExecutionError{
		Category: ErrCategoryLifecycle,
		Code:     "context_lifecycle",
		Message:  "context lifecycle violation",
	}
	ErrDuplicateBinding = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "duplicate_binding",
		Message:  "duplicate step definition",
	}
	ErrInvalidBinding = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_binding",
		Message:  "invalid step definition",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Pending returns the error a binding returns to mark itself unimplemented.
func Pending(reason string) error {
	if reason == "" {
		return ErrPendingStep
	}
	return ErrPendingStep.WithMessage(reason)
}
