// Package core provides the execution model types for stepbind.
package core

// TestStatus is the aggregate outcome of a scenario. Values are ordered by
// severity: a scenario's status only ever moves towards TestError.
type TestStatus int

const (
	StatusOK                    TestStatus = iota // Every executed step passed
	StatusSkipped                                 // Scenario ignored, nothing executed
	StatusStepDefinitionPending                   // A binding declared itself unimplemented
	StatusUndefinedStep                           // A step matched no binding
	StatusBindingError                            // Ambiguous match or argument conversion failure
	StatusTestError                               // A binding signalled a failure
)

// String returns the string representation of TestStatus
func (s TestStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusStepDefinitionPending:
		return "pending"
	case StatusUndefinedStep:
		return "undefined"
	case StatusBindingError:
		return "binding-error"
	case StatusTestError:
		return "test-error"
	default:
		return "unknown"
	}
}

// IsHardStop reports whether the status is caused by a step that could not
// execute meaningfully (undefined, binding error or test error).
func (s TestStatus) IsHardStop() bool {
	return s == StatusUndefinedStep || s == StatusBindingError || s == StatusTestError
}

// SuppressesExecution reports whether later steps of a scenario in this status
// must be skipped instead of executed.
func (s TestStatus) SuppressesExecution() bool {
	return s != StatusOK
}

// IsFailure returns true for statuses that always fail a scenario.
func (s TestStatus) IsFailure() bool {
	return s == StatusBindingError || s == StatusTestError
}

// MaxStatus returns the more severe of two statuses.
func MaxStatus(a, b TestStatus) TestStatus {
	if b > a {
		return b
	}
	return a
}

// StepStatus represents the outcome of a single step
type StepStatus int

const (
	StepPassed       StepStatus = iota // Binding invoked and returned normally
	StepPending                        // Binding signalled pending
	StepUndefined                      // No binding matched
	StepBindingError                   // Ambiguous match or conversion failure
	StepFailed                         // Binding signalled a failure
	StepSkipped                        // Not executed because of previous errors
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepPending:
		return "pending"
	case StepUndefined:
		return "undefined"
	case StepBindingError:
		return "binding-error"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// TestStatus maps a step outcome onto the scenario status it contributes.
func (s StepStatus) TestStatus() TestStatus {
	switch s {
	case StepPending:
		return StatusStepDefinitionPending
	case StepUndefined:
		return StatusUndefinedStep
	case StepBindingError:
		return StatusBindingError
	case StepFailed:
		return StatusTestError
	default:
		return StatusOK
	}
}

// MissingStepsOutcome controls how pending and undefined scenarios are
// reported to the hosting test framework.
type MissingStepsOutcome string

const (
	MissingStepsInconclusive MissingStepsOutcome = "inconclusive"
	MissingStepsIgnore       MissingStepsOutcome = "ignore"
	MissingStepsError        MissingStepsOutcome = "error"
)

// Verdict is the pass/fail classification handed to a test adapter.
type Verdict string

const (
	VerdictPassed       Verdict = "passed"
	VerdictFailed       Verdict = "failed"
	VerdictInconclusive Verdict = "inconclusive"
	VerdictIgnored      Verdict = "ignored"
)

// Verdict maps the aggregate status onto adapter semantics.
func (s TestStatus) Verdict(missing MissingStepsOutcome) Verdict {
	switch s {
	case StatusOK:
		return VerdictPassed
	case StatusSkipped:
		return VerdictIgnored
	case StatusStepDefinitionPending, StatusUndefinedStep:
		switch missing {
		case MissingStepsIgnore:
			return VerdictIgnored
		case MissingStepsError:
			return VerdictFailed
		default:
			return VerdictInconclusive
		}
	default:
		return VerdictFailed
	}
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryNoMatch                         // Step text matched no binding
	ErrCategoryAmbiguous                       // Step text matched several bindings
	ErrCategoryConversion                      // Raw argument could not become the parameter type
	ErrCategoryInvocation                      // Bound method signalled a failure
	ErrCategoryPending                         // Bound method is not implemented yet
	ErrCategoryLifecycle                       // Contexts initialized or cleaned up out of order
	ErrCategoryConfig                          // Invalid configuration or binding declaration
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryNoMatch:
		return "no-match"
	case ErrCategoryAmbiguous:
		return "ambiguous"
	case ErrCategoryConversion:
		return "conversion"
	case ErrCategoryInvocation:
		return "invocation"
	case ErrCategoryPending:
		return "pending"
	case ErrCategoryLifecycle:
		return "lifecycle"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
