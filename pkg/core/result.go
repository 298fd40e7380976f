package core

import (
	"time"
)

// StepResult captures the complete outcome of executing a single step
type StepResult struct {
	// Identity
	Index   int    `json:"index"`   // 0-based position in scenario (background steps first)
	Keyword string `json:"keyword"` // Keyword as written: Given, When, And, ...
	Text    string `json:"text"`    // Step text without keyword

	// Binding
	Binding   string        `json:"binding,omitempty"`   // Name of the invoked method
	Arguments []interface{} `json:"arguments,omitempty"` // Converted call arguments

	// Status
	Status   StepStatus    `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Error Details
	Error string `json:"error,omitempty"`
}

// ScenarioResult captures the complete outcome of executing a scenario
type ScenarioResult struct {
	// Identity
	ID           string   `json:"id"`
	FeatureTitle string   `json:"feature"`
	RuleTitle    string   `json:"rule,omitempty"`
	Title        string   `json:"title"`
	Tags         []string `json:"tags,omitempty"`

	// Status (aggregated from steps)
	Status TestStatus `json:"status"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results
	Steps []StepResult `json:"steps"`

	// Summary (computed)
	TotalSteps     int `json:"totalSteps"`
	PassedSteps    int `json:"passedSteps"`
	FailedSteps    int `json:"failedSteps"`
	PendingSteps   int `json:"pendingSteps"`
	UndefinedSteps int `json:"undefinedSteps"`
	SkippedSteps   int `json:"skippedSteps"`

	// Error info: the error of the most severe step
	Error string `json:"error,omitempty"`
}

// ComputeSummary calculates step counts from the Steps slice
func (s *ScenarioResult) ComputeSummary() {
	s.TotalSteps = len(s.Steps)
	s.PassedSteps = 0
	s.FailedSteps = 0
	s.PendingSteps = 0
	s.UndefinedSteps = 0
	s.SkippedSteps = 0

	for _, step := range s.Steps {
		switch step.Status {
		case StepPassed:
			s.PassedSteps++
		case StepFailed, StepBindingError:
			s.FailedSteps++
		case StepPending:
			s.PendingSteps++
		case StepUndefined:
			s.UndefinedSteps++
		case StepSkipped:
			s.SkippedSteps++
		}
	}
}

// AggregateStatus determines the scenario status from step results.
// It is the most severe status any step contributed.
func (s *ScenarioResult) AggregateStatus() TestStatus {
	status := StatusOK
	for _, step := range s.Steps {
		status = MaxStatus(status, step.Status.TestStatus())
	}
	return status
}

// SuiteResult captures the complete outcome of executing many scenarios
type SuiteResult struct {
	// Identity
	Name  string `json:"name"`
	RunID string `json:"runId"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results
	Scenarios []ScenarioResult `json:"scenarios"`

	// Summary
	TotalScenarios     int `json:"totalScenarios"`
	PassedScenarios    int `json:"passedScenarios"`
	FailedScenarios    int `json:"failedScenarios"`
	PendingScenarios   int `json:"pendingScenarios"`
	UndefinedScenarios int `json:"undefinedScenarios"`
	SkippedScenarios   int `json:"skippedScenarios"`
}

// ComputeSummary calculates scenario counts from the Scenarios slice
func (s *SuiteResult) ComputeSummary() {
	s.TotalScenarios = len(s.Scenarios)
	s.PassedScenarios = 0
	s.FailedScenarios = 0
	s.PendingScenarios = 0
	s.UndefinedScenarios = 0
	s.SkippedScenarios = 0

	for _, sc := range s.Scenarios {
		switch sc.Status {
		case StatusOK:
			s.PassedScenarios++
		case StatusBindingError, StatusTestError:
			s.FailedScenarios++
		case StatusStepDefinitionPending:
			s.PendingScenarios++
		case StatusUndefinedStep:
			s.UndefinedScenarios++
		case StatusSkipped:
			s.SkippedScenarios++
		}
	}
}

// Status returns the most severe scenario status of the suite.
func (s *SuiteResult) Status() TestStatus {
	status := StatusOK
	for _, sc := range s.Scenarios {
		status = MaxStatus(status, sc.Status)
	}
	return status
}

// Success returns true if no scenario failed under the given outcome mapping
func (s *SuiteResult) Success(missing MissingStepsOutcome) bool {
	for _, sc := range s.Scenarios {
		if sc.Status.Verdict(missing) == VerdictFailed {
			return false
		}
	}
	return true
}
