package executor

import (
	"time"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/core"
)

// outcomeKind tags the result of processing one step.
type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeSkipped
	outcomePending
	outcomeUndefined
	outcomeAmbiguous
	outcomeConversionFailed
	outcomeInvocationFailed
)

// stepOutcome is the tagged result of one step. Business failures travel
// here instead of being returned as Go errors.
type stepOutcome struct {
	kind       outcomeKind
	match      binding.Match
	args       []interface{}
	err        error
	outOfScope []binding.Match
	invoked    bool
	duration   time.Duration
}

func (o stepOutcome) stepStatus() core.StepStatus {
	switch o.kind {
	case outcomeSkipped:
		return core.StepSkipped
	case outcomePending:
		return core.StepPending
	case outcomeUndefined:
		return core.StepUndefined
	case outcomeAmbiguous, outcomeConversionFailed:
		return core.StepBindingError
	case outcomeInvocationFailed:
		return core.StepFailed
	default:
		return core.StepPassed
	}
}

func (o stepOutcome) category() core.ErrorCategory {
	switch o.kind {
	case outcomePending:
		return core.ErrCategoryPending
	case outcomeUndefined:
		return core.ErrCategoryNoMatch
	case outcomeAmbiguous:
		return core.ErrCategoryAmbiguous
	case outcomeConversionFailed:
		return core.ErrCategoryConversion
	case outcomeInvocationFailed:
		return core.ErrCategoryInvocation
	default:
		return core.ErrCategoryNone
	}
}
