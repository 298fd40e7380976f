package report

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/stepbind/pkg/core"
)

// Build converts a suite result into a report. outcome decides the verdict
// of scenarios that stopped on a pending or undefined step.
func Build(suite *core.SuiteResult, outcome core.MissingStepsOutcome) *Summary {
	end := suite.StartTime.Add(suite.Duration)
	s := &Summary{
		Version:     FormatVersion,
		RunID:       suite.RunID,
		Name:        suite.Name,
		Outcome:     outcome,
		StartTime:   suite.StartTime,
		EndTime:     &end,
		Duration:    suite.Duration.Milliseconds(),
		LastUpdated: time.Now(),
		Scenarios:   make([]ScenarioEntry, 0, len(suite.Scenarios)),
	}
	for i := range suite.Scenarios {
		s.Scenarios = append(s.Scenarios, BuildScenario(i, &suite.Scenarios[i], outcome))
	}
	s.Recount()
	return s
}

// BuildScenario converts one scenario result into a report entry.
func BuildScenario(index int, r *core.ScenarioResult, outcome core.MissingStepsOutcome) ScenarioEntry {
	start := r.StartTime
	e := ScenarioEntry{
		Index:     index,
		ID:        r.ID,
		Feature:   r.FeatureTitle,
		Rule:      r.RuleTitle,
		Title:     r.Title,
		Tags:      r.Tags,
		Result:    r.Status.String(),
		Verdict:   FromVerdict(r.Status.Verdict(outcome)),
		StartTime: &start,
		Duration:  r.Duration.Milliseconds(),
		Error:     r.Error,
		StepCount: StepCounts{
			Total:     r.TotalSteps,
			Passed:    r.PassedSteps,
			Failed:    r.FailedSteps,
			Pending:   r.PendingSteps,
			Undefined: r.UndefinedSteps,
			Skipped:   r.SkippedSteps,
		},
	}
	if start.IsZero() {
		e.StartTime = nil
	}

	e.Steps = make([]StepEntry, len(r.Steps))
	for i, step := range r.Steps {
		e.Steps[i] = StepEntry{
			Index:     step.Index,
			Keyword:   step.Keyword,
			Text:      step.Text,
			Binding:   step.Binding,
			Arguments: formatArguments(step.Arguments),
			Status:    step.Status.String(),
			StartTime: step.StartTime,
			Duration:  step.Duration.Milliseconds(),
			Error:     step.Error,
		}
		if step.Category != core.ErrCategoryNone {
			e.Steps[i].Category = step.Category.String()
		}
	}
	return e
}

func formatArguments(args []interface{}) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

// Recount recomputes Counts and the run verdict from the scenario entries.
func (s *Summary) Recount() {
	var c Counts
	for _, e := range s.Scenarios {
		c.Total++
		switch e.Verdict {
		case StatusPassed:
			c.Passed++
		case StatusFailed:
			c.Failed++
		case StatusInconclusive:
			c.Inconclusive++
		case StatusIgnored:
			c.Ignored++
		case StatusRunning:
			c.Running++
		}
		switch e.Result {
		case core.StatusStepDefinitionPending.String():
			c.Pending++
		case core.StatusUndefinedStep.String():
			c.Undefined++
		}
	}
	s.Counts = c
	s.Verdict = c.verdict()
}

// verdict is the run verdict: failed beats inconclusive beats passed. A
// run where every scenario was ignored is ignored.
func (c Counts) verdict() Status {
	switch {
	case c.Running > 0 || c.Total > c.Passed+c.Failed+c.Inconclusive+c.Ignored:
		return StatusRunning
	case c.Failed > 0:
		return StatusFailed
	case c.Inconclusive > 0:
		return StatusInconclusive
	case c.Total > 0 && c.Ignored == c.Total:
		return StatusIgnored
	default:
		return StatusPassed
	}
}

// Failed returns true if any scenario verdict is failed.
func (s *Summary) Failed() bool {
	return s.Counts.Failed > 0
}
