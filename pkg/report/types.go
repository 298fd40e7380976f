package report

import (
	"time"

	"github.com/devicelab-dev/stepbind/pkg/core"
)

// FormatVersion is the version of the report.json layout.
const FormatVersion = "1.0.0"

// Status is the verdict of a scenario or of the whole run.
type Status string

const (
	StatusPending      Status = "pending" // Not started yet (live reports only)
	StatusRunning      Status = "running"
	StatusPassed       Status = "passed"
	StatusFailed       Status = "failed"
	StatusInconclusive Status = "inconclusive"
	StatusIgnored      Status = "ignored"
)

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	return s != StatusPending && s != StatusRunning
}

// FromVerdict converts an adapter verdict into a report status.
func FromVerdict(v core.Verdict) Status {
	switch v {
	case core.VerdictPassed:
		return StatusPassed
	case core.VerdictFailed:
		return StatusFailed
	case core.VerdictIgnored:
		return StatusIgnored
	default:
		return StatusInconclusive
	}
}

// Summary is the complete report of a run.
type Summary struct {
	Version     string                   `json:"version"`
	RunID       string                   `json:"runId"`
	Name        string                   `json:"name,omitempty"`
	Verdict     Status                   `json:"verdict"`
	Outcome     core.MissingStepsOutcome `json:"missingStepsOutcome"`
	StartTime   time.Time                `json:"startTime"`
	EndTime     *time.Time               `json:"endTime,omitempty"`
	Duration    int64                    `json:"duration"` // ms
	LastUpdated time.Time                `json:"lastUpdated"`
	UpdateSeq   int64                    `json:"updateSeq"`
	Counts      Counts                   `json:"counts"`
	Scenarios   []ScenarioEntry          `json:"scenarios"`
}

// Counts holds scenario counts per verdict and per aggregate status.
type Counts struct {
	Total        int `json:"total"`
	Passed       int `json:"passed"`
	Failed       int `json:"failed"`
	Inconclusive int `json:"inconclusive"`
	Ignored      int `json:"ignored"`
	Running      int `json:"running,omitempty"`

	Pending   int `json:"pending"`   // scenarios with a pending step
	Undefined int `json:"undefined"` // scenarios with an undefined step
}

// ScenarioEntry is one scenario of a report.
type ScenarioEntry struct {
	Index     int         `json:"index"`
	ID        string      `json:"id"`
	Feature   string      `json:"feature"`
	Rule      string      `json:"rule,omitempty"`
	Title     string      `json:"title"`
	Tags      []string    `json:"tags,omitempty"`
	Result    string      `json:"result,omitempty"` // aggregate test status
	Verdict   Status      `json:"verdict"`
	StartTime *time.Time  `json:"startTime,omitempty"`
	Duration  int64       `json:"duration"` // ms
	DataFile  string      `json:"dataFile,omitempty"`
	Error     string      `json:"error,omitempty"`
	Steps     []StepEntry `json:"steps,omitempty"`
	StepCount StepCounts  `json:"stepCounts"`
}

// StepCounts holds step statistics of a scenario.
type StepCounts struct {
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Undefined int `json:"undefined"`
	Skipped   int `json:"skipped"`
}

// StepEntry is one executed (or skipped) step.
type StepEntry struct {
	Index     int       `json:"index"`
	Keyword   string    `json:"keyword"`
	Text      string    `json:"text"`
	Binding   string    `json:"binding,omitempty"`
	Arguments []string  `json:"arguments,omitempty"`
	Status    string    `json:"status"`
	Category  string    `json:"category,omitempty"`
	StartTime time.Time `json:"startTime"`
	Duration  int64     `json:"duration"` // ms
	Error     string    `json:"error,omitempty"`
}
