package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureStep represents a step within a test result.
type AllureStep struct {
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	Stage       string             `json:"stage"`
	Start       int64              `json:"start"`
	Stop        int64              `json:"stop"`
	Steps       []AllureStep       `json:"steps"`
	Attachments []AllureAttachment `json:"attachments"`
	Parameters  []AllureParameter  `json:"parameters,omitempty"`

	StatusDetails *AllureStatusDetails `json:"statusDetails,omitempty"`
}

// AllureParameter is a named argument shown on a test or step.
type AllureParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex,omitempty"`
}

// AllureExecutor holds executor branding info.
type AllureExecutor struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ReportURL  string `json:"reportUrl,omitempty"`
	ReportName string `json:"reportName"`
}

// GenerateAllure writes Allure-compatible result files for s into
// <reportDir>/allure-results/.
func GenerateAllure(reportDir string, s *Summary) error {
	allureDir := filepath.Join(reportDir, "allure-results")
	if err := os.MkdirAll(allureDir, 0o755); err != nil {
		return fmt.Errorf("create allure-results dir: %w", err)
	}

	// One result file per scenario, with the scenario record attached
	for i := range s.Scenarios {
		entry := &s.Scenarios[i]
		result := buildAllureResult(entry)

		attachment, err := writeScenarioAttachment(allureDir, result.UUID, entry)
		if err != nil {
			return err
		}
		result.Attachments = append(result.Attachments, attachment)

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal allure result for %q: %w", entry.Title, err)
		}

		resultPath := filepath.Join(allureDir, result.UUID+"-result.json")
		if err := os.WriteFile(resultPath, data, 0o644); err != nil {
			return fmt.Errorf("write allure result %s: %w", result.UUID, err)
		}
	}

	if err := writeAllureCategories(allureDir); err != nil {
		return err
	}
	if err := writeAllureEnvironment(allureDir, s); err != nil {
		return err
	}
	return writeAllureExecutor(allureDir, s)
}

// writeScenarioAttachment stores entry, steps included, next to its result
// so the Allure UI can show the raw record.
func writeScenarioAttachment(allureDir, uuid string, entry *ScenarioEntry) (AllureAttachment, error) {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return AllureAttachment{}, fmt.Errorf("marshal scenario attachment for %q: %w", entry.Title, err)
	}
	source := uuid + "-scenario-attachment.json"
	if err := os.WriteFile(filepath.Join(allureDir, source), data, 0o644); err != nil {
		return AllureAttachment{}, fmt.Errorf("write scenario attachment %s: %w", uuid, err)
	}
	return AllureAttachment{Name: "scenario", Source: source, Type: "application/json"}, nil
}

// buildAllureResult builds an AllureResult from a scenario entry.
func buildAllureResult(entry *ScenarioEntry) AllureResult {
	var startMs, stopMs int64
	if entry.StartTime != nil {
		startMs = entry.StartTime.UnixMilli()
		stopMs = startMs + entry.Duration
	}

	fullName := entry.Title
	if entry.Feature != "" {
		fullName = entry.Feature + ": " + entry.Title
	}

	labels := []AllureLabel{
		{Name: "feature", Value: entry.Feature},
		{Name: "suite", Value: entry.Feature},
		{Name: "framework", Value: "stepbind"},
		{Name: "language", Value: "go"},
		{Name: "severity", Value: "normal"},
	}
	if entry.Rule != "" {
		labels = append(labels, AllureLabel{Name: "story", Value: entry.Rule})
	}
	for _, tag := range entry.Tags {
		labels = append(labels, AllureLabel{Name: "tag", Value: strings.TrimPrefix(tag, "@")})
	}

	uuid := entry.ID
	if uuid == "" {
		uuid = fmt.Sprintf("scenario-%03d", entry.Index)
	}

	return AllureResult{
		UUID:          uuid,
		HistoryID:     fnv32aHash(entry.Feature + ":" + entry.Rule + ":" + entry.Title),
		FullName:      fullName,
		Name:          entry.Title,
		Status:        mapAllureStatus(entry.Verdict, entry.Result),
		Stage:         "finished",
		Start:         startMs,
		Stop:          stopMs,
		Labels:        labels,
		StatusDetails: AllureStatusDetails{Message: entry.Error},
		Steps:         buildAllureSteps(entry.Steps),
		Attachments:   []AllureAttachment{},
	}
}

// buildAllureSteps builds Allure steps from step entries.
func buildAllureSteps(entries []StepEntry) []AllureStep {
	steps := make([]AllureStep, 0, len(entries))
	for _, e := range entries {
		steps = append(steps, buildAllureStep(e))
	}
	return steps
}

func buildAllureStep(e StepEntry) AllureStep {
	var startMs, stopMs int64
	if !e.StartTime.IsZero() {
		startMs = e.StartTime.UnixMilli()
		stopMs = startMs + e.Duration
	}

	step := AllureStep{
		Name:        e.Keyword + " " + e.Text,
		Status:      mapAllureStepStatus(e.Status),
		Stage:       "finished",
		Start:       startMs,
		Stop:        stopMs,
		Steps:       []AllureStep{},
		Attachments: []AllureAttachment{},
	}
	for i, arg := range e.Arguments {
		step.Parameters = append(step.Parameters, AllureParameter{Name: fmt.Sprintf("arg%d", i), Value: arg})
	}
	if e.Error != "" {
		step.StatusDetails = &AllureStatusDetails{Message: e.Error}
	}
	return step
}

// mapAllureStatus maps a scenario verdict to an Allure status. Failures
// caused by the bindings themselves are "broken" rather than "failed".
func mapAllureStatus(v Status, result string) string {
	switch v {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		if result == "test-error" {
			return "failed"
		}
		return "broken"
	case StatusIgnored, StatusInconclusive:
		return "skipped"
	default:
		return "unknown"
	}
}

// mapAllureStepStatus maps a step status to an Allure status.
func mapAllureStepStatus(s string) string {
	switch s {
	case "passed":
		return "passed"
	case "failed":
		return "failed"
	case "undefined", "binding-error":
		return "broken"
	case "pending", "skipped":
		return "skipped"
	default:
		return "unknown"
	}
}

// fnv32aHash returns a hex-encoded FNV-32a hash of the input string.
func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

// writeAllureCategories writes categories.json for failure categorization.
func writeAllureCategories(allureDir string) error {
	categories := []AllureCategory{
		{Name: "Undefined Step", MatchedStatuses: []string{"broken", "skipped"}, MessageRegex: "(?s)(?i).*no matching step definition.*"},
		{Name: "Ambiguous Step", MatchedStatuses: []string{"broken"}, MessageRegex: "(?s)(?i).*ambiguous.*"},
		{Name: "Argument Conversion", MatchedStatuses: []string{"broken"}, MessageRegex: "(?s)(?i).*(cannot convert|conversion).*"},
		{Name: "Pending Step", MatchedStatuses: []string{"skipped"}, MessageRegex: "(?s)(?i).*pending.*"},
		{Name: "Binding Panic", MatchedStatuses: []string{"failed"}, MessageRegex: "(?s)(?i).*panic.*"},
		{Name: "Timeout", MatchedStatuses: []string{"failed"}, MessageRegex: "(?s)(?i).*(deadline exceeded|timed out|timeout).*"},
		{Name: "Step Failure", MatchedStatuses: []string{"failed"}},
	}

	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	path := filepath.Join(allureDir, "categories.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write categories.json: %w", err)
	}
	return nil
}

// writeAllureEnvironment writes environment.properties with run metadata.
func writeAllureEnvironment(allureDir string, s *Summary) error {
	var b strings.Builder
	b.WriteString("framework=stepbind\n")
	b.WriteString(fmt.Sprintf("go.version=%s\n", runtime.Version()))
	b.WriteString(fmt.Sprintf("missingStepsOutcome=%s\n", s.Outcome))
	if s.RunID != "" {
		b.WriteString(fmt.Sprintf("run.id=%s\n", s.RunID))
	}
	if s.Name != "" {
		b.WriteString(fmt.Sprintf("run.name=%s\n", s.Name))
	}

	path := filepath.Join(allureDir, "environment.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}
	return nil
}

// writeAllureExecutor writes executor.json.
func writeAllureExecutor(allureDir string, s *Summary) error {
	name := s.Name
	if name == "" {
		name = "stepbind run"
	}
	executor := AllureExecutor{
		Name:       "stepbind",
		Type:       "stepbind",
		ReportName: name,
	}

	data, err := json.MarshalIndent(executor, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal executor: %w", err)
	}

	path := filepath.Join(allureDir, "executor.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write executor.json: %w", err)
	}
	return nil
}
