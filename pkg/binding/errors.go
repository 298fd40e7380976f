package binding

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/stepbind/pkg/core"
)

// DuplicateBindingError is returned when a definition with the same bucket,
// pattern and parameter types is already registered.
type DuplicateBindingError struct {
	Definition *StepDefinition
	Existing   *StepDefinition
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("duplicate step definition %s: already registered as %s", e.Definition, e.Existing)
}

func (e *DuplicateBindingError) Unwrap() error { return core.ErrDuplicateBinding }

// NoMatchError describes a step no definition matched.
type NoMatchError struct {
	Bucket     Bucket
	Text       string
	OutOfScope []Match
}

func (e *NoMatchError) Error() string {
	msg := fmt.Sprintf("no matching step definition for %s %q", e.Bucket, e.Text)
	if len(e.OutOfScope) > 0 {
		msg += fmt.Sprintf(" (%d definition(s) matched outside their scope)", len(e.OutOfScope))
	}
	return msg
}

func (e *NoMatchError) Unwrap() error { return core.ErrNoMatchingBinding }

// AmbiguousError lists every definition that matched one step.
type AmbiguousError struct {
	Text       string
	Candidates []Match
}

func (e *AmbiguousError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Definition.Method.Name()
	}
	return fmt.Sprintf("ambiguous step definitions found for step %q: %s", e.Text, strings.Join(names, ", "))
}

func (e *AmbiguousError) Unwrap() error { return core.ErrAmbiguousBinding }
