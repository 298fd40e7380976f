package binding

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/devicelab-dev/stepbind/pkg/convert"
	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/feature"
)

// Scope restricts a step definition to matching features and scenarios.
// All tags must be present, and Feature and Scenario, when set, must equal
// the current titles.
type Scope struct {
	Tags     []string `yaml:"tags"`
	Feature  string   `yaml:"feature"`
	Scenario string   `yaml:"scenario"`
}

// Matches reports whether the scope admits sc.
func (s Scope) Matches(sc ScopeContext) bool {
	if s.Feature != "" && s.Feature != sc.FeatureTitle {
		return false
	}
	if s.Scenario != "" && s.Scenario != sc.ScenarioTitle {
		return false
	}
	for _, tag := range s.Tags {
		if !feature.HasTag(sc.Tags, tag) {
			return false
		}
	}
	return true
}

func (s Scope) String() string {
	var parts []string
	for _, t := range s.Tags {
		parts = append(parts, "@"+feature.NormalizeTag(t))
	}
	if s.Feature != "" {
		parts = append(parts, fmt.Sprintf("feature=%q", s.Feature))
	}
	if s.Scenario != "" {
		parts = append(parts, fmt.Sprintf("scenario=%q", s.Scenario))
	}
	return strings.Join(parts, " ")
}

// ScopeContext is what scope filters are evaluated against.
type ScopeContext struct {
	FeatureTitle  string
	ScenarioTitle string
	Tags          []string
}

// StepDefinition binds a step pattern to a method. It must not be modified
// after registration.
type StepDefinition struct {
	Bucket  Bucket
	Pattern *Pattern
	Method  Method
	// Scopes are OR-ed; an empty list matches everywhere.
	Scopes []Scope
}

// InScope reports whether any scope admits sc.
func (d *StepDefinition) InScope(sc ScopeContext) bool {
	if len(d.Scopes) == 0 {
		return true
	}
	for _, s := range d.Scopes {
		if s.Matches(sc) {
			return true
		}
	}
	return false
}

// ExpectedCaptures returns how many captures a step must yield, given
// whether the step carries a table or doc string.
func (d *StepDefinition) ExpectedCaptures(hasArgument bool) int {
	n := len(d.Method.ParamTypes())
	if hasArgument {
		n--
	}
	return n
}

// Validate checks the definition before registration.
func (d *StepDefinition) Validate() error {
	if d.Pattern == nil {
		return core.ErrInvalidBinding.WithMessage("step definition has no pattern")
	}
	if d.Method == nil {
		return core.ErrInvalidBinding.WithMessage(fmt.Sprintf("step definition %q has no method", d.Pattern.Source()))
	}
	params := d.Method.ParamTypes()
	for i, p := range params {
		if !convert.IsConvertibleKind(p) {
			return core.ErrInvalidBinding.WithMessage(
				fmt.Sprintf("%s: parameter %d has unsupported type %s", d.Method.Name(), i+1, p))
		}
	}
	captures := d.Pattern.CaptureCount()
	trailing := len(params) > 0 && captures == len(params)-1 && convert.IsMultilineKind(params[len(params)-1])
	if captures != len(params) && !trailing {
		return core.ErrInvalidBinding.WithMessage(
			fmt.Sprintf("%s: pattern %q has %d captures but the method takes %d parameters",
				d.Method.Name(), d.Pattern.Source(), captures, len(params)))
	}
	return nil
}

// Signature identifies a definition for duplicate detection: bucket, pattern
// and parameter types.
func (d *StepDefinition) Signature() string {
	var b strings.Builder
	b.WriteString(d.Bucket.String())
	b.WriteByte('|')
	b.WriteString(d.Pattern.Kind().String())
	b.WriteByte('|')
	b.WriteString(d.Pattern.Source())
	b.WriteByte('|')
	b.WriteString(typeList(d.Method.ParamTypes()))
	return b.String()
}

func (d *StepDefinition) String() string {
	return fmt.Sprintf("[%s] %s -> %s(%s)", d.Bucket, d.Pattern.Source(), d.Method.Name(), typeList(d.Method.ParamTypes()))
}

func typeList(types []reflect.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
