package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// WriteJSON writes the report as indented JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// TextOptions configures the text rendering of a report.
type TextOptions struct {
	NoColor bool
	// Steps lists every step of failed and inconclusive scenarios instead of
	// only the first error.
	Steps bool
}

// WriteText writes a plain-text summary of the report.
func (s *Summary) WriteText(w io.Writer) error {
	return s.Render(w, TextOptions{NoColor: true})
}

// Render writes a human-readable summary of the report.
func (s *Summary) Render(w io.Writer, opts TextOptions) error {
	styles := map[Status]lipgloss.Style{}
	var dim lipgloss.Style
	if !opts.NoColor {
		r := lipgloss.NewRenderer(w)
		styles[StatusPassed] = r.NewStyle().Foreground(lipgloss.Color("42"))
		styles[StatusFailed] = r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
		styles[StatusInconclusive] = r.NewStyle().Foreground(lipgloss.Color("214"))
		styles[StatusIgnored] = r.NewStyle().Foreground(lipgloss.Color("245"))
		dim = r.NewStyle().Foreground(lipgloss.Color("242"))
	}

	var b strings.Builder
	title := s.Name
	if title == "" {
		title = "stepbind"
	}
	fmt.Fprintf(&b, "%s run %s\n\n", title, s.RunID)

	for _, e := range s.Scenarios {
		name := e.Title
		if e.Feature != "" {
			name = e.Feature + " > " + e.Title
		}
		line := fmt.Sprintf("%s %s", symbol(e.Verdict), name)
		b.WriteString(styles[e.Verdict].Render(line))
		b.WriteString(dim.Render(fmt.Sprintf(" (%s, %s)", e.Result, formatMs(e.Duration))))
		b.WriteByte('\n')

		if e.Verdict == StatusPassed || e.Verdict == StatusIgnored {
			if e.Verdict == StatusIgnored && e.Error != "" {
				fmt.Fprintf(&b, "    %s\n", dim.Render(e.Error))
			}
			continue
		}
		for _, step := range e.Steps {
			if !opts.Steps && step.Error == "" {
				continue
			}
			fmt.Fprintf(&b, "    %s %s [%s]\n", step.Keyword, step.Text, step.Status)
			if step.Error != "" {
				fmt.Fprintf(&b, "      %s\n", step.Error)
			}
		}
	}

	c := s.Counts
	fmt.Fprintf(&b, "\nScenarios: %d total, %d passed, %d failed, %d inconclusive, %d ignored\n",
		c.Total, c.Passed, c.Failed, c.Inconclusive, c.Ignored)
	if c.Pending > 0 || c.Undefined > 0 {
		fmt.Fprintf(&b, "Missing steps: %d pending, %d undefined (treated as %s)\n", c.Pending, c.Undefined, s.Outcome)
	}
	fmt.Fprintf(&b, "Verdict: %s in %s\n", styles[s.Verdict].Render(string(s.Verdict)), formatMs(s.Duration))

	_, err := io.WriteString(w, b.String())
	return err
}

func symbol(s Status) string {
	switch s {
	case StatusPassed:
		return "✓"
	case StatusFailed:
		return "✗"
	case StatusInconclusive:
		return "?"
	case StatusIgnored:
		return "-"
	default:
		return "…"
	}
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

// WriteDir writes report.json and one file per scenario under
// <dir>/scenarios/.
func (s *Summary) WriteDir(dir string) error {
	if err := ensureDir(filepath.Join(dir, "scenarios")); err != nil {
		return fmt.Errorf("create scenarios dir: %w", err)
	}
	index := *s
	index.Scenarios = make([]ScenarioEntry, len(s.Scenarios))
	for i, e := range s.Scenarios {
		if err := writeScenario(dir, &e); err != nil {
			return err
		}
		e.Steps = nil
		index.Scenarios[i] = e
	}
	if err := atomicWriteJSON(filepath.Join(dir, "report.json"), &index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// writeScenario writes the scenario detail file and records its path on e.
func writeScenario(dir string, e *ScenarioEntry) error {
	e.DataFile = filepath.ToSlash(filepath.Join("scenarios", scenarioFile(e)))
	if err := atomicWriteJSON(filepath.Join(dir, e.DataFile), e); err != nil {
		return fmt.Errorf("write scenario %s: %w", e.ID, err)
	}
	return nil
}

func scenarioFile(e *ScenarioEntry) string {
	if e.ID != "" {
		return e.ID + ".json"
	}
	return fmt.Sprintf("scenario-%03d.json", e.Index)
}

// atomicWriteJSON writes v to path through a temporary file so readers never
// see a partial document.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ReadReport reads report.json and its scenario files from dir.
func ReadReport(dir string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, "report.json")) //#nosec G304 -- report dir is user-provided
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse report.json: %w", err)
	}
	for i, e := range s.Scenarios {
		if e.DataFile == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(e.DataFile))) //#nosec G304 -- path from report.json
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.DataFile, err)
		}
		var detail ScenarioEntry
		if err := json.Unmarshal(data, &detail); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.DataFile, err)
		}
		s.Scenarios[i].Steps = detail.Steps
	}
	return &s, nil
}
