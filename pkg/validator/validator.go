// Package validator checks scenario plans before execution: every plan must
// parse, and every step must resolve to exactly one step definition.
package validator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/feature"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Line    int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// IssueKind classifies a step that would not run.
type IssueKind string

const (
	IssueUndefined IssueKind = "undefined"
	IssueAmbiguous IssueKind = "ambiguous"
)

// Issue is a step with no unique step definition.
type Issue struct {
	Kind     IssueKind
	File     string
	Line     int
	Feature  string
	Scenario string
	Bucket   binding.Bucket
	Step     string
	// Candidates lists the tying definitions of an ambiguous step, or the
	// definitions rejected by their scope for an undefined one.
	Candidates []*binding.StepDefinition
}

func (i Issue) String() string {
	loc := i.File
	if i.Line > 0 {
		loc = fmt.Sprintf("%s:%d", i.File, i.Line)
	}
	msg := fmt.Sprintf("%s: %s step %s %q in %q", loc, i.Kind, i.Bucket, i.Step, i.Scenario)
	if len(i.Candidates) > 0 {
		names := make([]string, len(i.Candidates))
		for n, c := range i.Candidates {
			names[n] = c.Method.Name()
		}
		msg += " (" + strings.Join(names, ", ") + ")"
	}
	return msg
}

// Result contains the validation result.
type Result struct {
	// Files is the list of plan file paths in execution order.
	Files []string
	// Features are the parsed features after tag filtering.
	Features []*feature.Feature
	// Errors contains all parse and access errors found.
	Errors []error
	// Issues lists the steps that would be undefined or ambiguous.
	Issues []Issue
}

// IsValid returns true if there are no errors and no issues.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0 && len(r.Issues) == 0
}

// Validator validates plan files.
type Validator struct {
	includeTags []string
	excludeTags []string
	language    language.Tag
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// WithLanguage sets the language of plans that do not declare one.
func (v *Validator) WithLanguage(tag language.Tag) *Validator {
	v.language = tag
	return v
}

// Validate parses a plan file, or every plan under a directory, and keeps
// the scenarios selected by the tag filters.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectPlanFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		v.validateFile(file, result)
	}
	return result
}

// ValidateBindings parses the plans at path and checks them against reg.
func (v *Validator) ValidateBindings(path string, reg *binding.Registry) *Result {
	result := v.Validate(path)
	result.Issues = Check(reg, result.Features)
	return result
}

// collectPlanFiles finds all .yaml/.yml files in a directory, sorted.
func collectPlanFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

func (v *Validator) validateFile(filePath string, result *Result) {
	features, err := feature.ParseFileWith(filePath, feature.ParseOptions{DefaultLanguage: v.language})
	if err != nil {
		line := 0
		var pe *feature.ParseError
		if errors.As(err, &pe) {
			line = pe.Line
		}
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Line:    line,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}

	features = feature.Filter(features, v.includeTags, v.excludeTags)
	if len(features) == 0 {
		return
	}
	result.Files = append(result.Files, filePath)
	result.Features = append(result.Features, features...)
}

// Check resolves every step of features against reg without running
// anything and reports the steps that are undefined or ambiguous.
func Check(reg *binding.Registry, features []*feature.Feature) []Issue {
	var issues []Issue
	for _, f := range features {
		for _, sc := range f.Scenarios {
			scope := binding.ScopeContext{
				FeatureTitle:  f.Info.Title,
				ScenarioTitle: sc.Info.Title,
				Tags:          sc.EffectiveTags(f),
			}

			previous := binding.Any
			for _, steps := range [][]feature.Step{f.Background, sc.Steps} {
				for _, step := range steps {
					bucket := binding.ResolveBucket(step.Keyword, previous)
					previous = bucket

					res := reg.Match(binding.StepInstance{
						Bucket:      bucket,
						Text:        step.Text,
						HasArgument: step.Argument() != nil,
						Scope:       scope,
					})
					issue := Issue{
						File:     f.SourcePath,
						Line:     step.Line,
						Feature:  f.Info.Title,
						Scenario: sc.Info.Title,
						Bucket:   bucket,
						Step:     step.Text,
					}
					switch res.Kind {
					case binding.NoMatch:
						issue.Kind = IssueUndefined
						issue.Candidates = definitions(res.OutOfScope)
					case binding.Ambiguous:
						issue.Kind = IssueAmbiguous
						issue.Candidates = definitions(res.Candidates)
					default:
						continue
					}
					issues = append(issues, issue)
				}
			}
		}
	}
	return issues
}

func definitions(matches []binding.Match) []*binding.StepDefinition {
	if len(matches) == 0 {
		return nil
	}
	out := make([]*binding.StepDefinition, len(matches))
	for i, m := range matches {
		out[i] = m.Definition
	}
	return out
}
