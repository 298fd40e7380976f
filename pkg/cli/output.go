package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/report"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// console prints live progress and the final summary table.
type console struct {
	mu       sync.Mutex
	out      io.Writer
	parallel bool
	outcome  core.MissingStepsOutcome

	bold  lipgloss.Style
	green lipgloss.Style
	red   lipgloss.Style
	amber lipgloss.Style
	cyan  lipgloss.Style
	gray  lipgloss.Style
}

func newConsole(w io.Writer, noColor, parallel bool, outcome core.MissingStepsOutcome) *console {
	c := &console{out: w, parallel: parallel, outcome: outcome}
	if noColor {
		return c
	}
	r := lipgloss.NewRenderer(w)
	c.bold = r.NewStyle().Bold(true)
	c.green = r.NewStyle().Foreground(lipgloss.Color("2"))
	c.red = r.NewStyle().Foreground(lipgloss.Color("1"))
	c.amber = r.NewStyle().Foreground(lipgloss.Color("3"))
	c.cyan = r.NewStyle().Foreground(lipgloss.Color("6"))
	c.gray = r.NewStyle().Foreground(lipgloss.Color("8"))
	return c
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Live progress callbacks. Step lines are only printed for sequential runs,
// where they cannot interleave.
func (c *console) onScenarioStart(idx, total int, featureTitle, scenarioTitle string) {
	if c.parallel {
		return
	}
	c.printf("\n  %s %s %s\n%s\n",
		c.cyan.Render(fmt.Sprintf("[%d/%d]", idx+1, total)),
		c.bold.Render(scenarioTitle), c.gray.Render("("+featureTitle+")"),
		strings.Repeat("─", 60))
}

func (c *console) onStepComplete(_ string, step core.StepResult) {
	if c.parallel {
		return
	}
	desc := step.Keyword + " " + step.Text
	ms := step.Duration.Milliseconds()
	dur := formatDuration(ms)

	switch step.Status {
	case core.StepPassed:
		symbol, style := "✓", c.green
		if ms >= slowThresholdMs {
			symbol, style = "⚠", c.amber
		}
		c.printf("    %s %s %s\n", style.Render(symbol), desc, c.gray.Render("("+dur+")"))
	case core.StepSkipped:
		c.printf("    %s %s\n", c.gray.Render("-"), c.gray.Render(desc))
	case core.StepPending, core.StepUndefined:
		c.printf("    %s %s %s\n", c.amber.Render("?"), desc, c.gray.Render("("+step.Status.String()+")"))
		if step.Error != "" {
			c.printf("      %s %s\n", c.gray.Render("╰─"), step.Error)
		}
	default:
		c.printf("    %s %s (%s)\n", c.red.Render("✗"), desc, dur)
		if step.Error != "" {
			c.printf("      %s %s\n", c.gray.Render("╰─"), step.Error)
		}
	}
}

func (c *console) onScenarioEnd(r core.ScenarioResult) {
	verdict := report.FromVerdict(r.Status.Verdict(c.outcome))
	name := r.Title
	if c.parallel {
		name = r.FeatureTitle + " > " + r.Title
	}
	c.printf("%s %s %s\n", c.styleFor(verdict).Render(symbolFor(verdict)), name,
		c.gray.Render(formatDuration(r.Duration.Milliseconds())))
}

func (c *console) styleFor(s report.Status) lipgloss.Style {
	switch s {
	case report.StatusPassed:
		return c.green
	case report.StatusFailed:
		return c.red
	case report.StatusInconclusive:
		return c.amber
	default:
		return c.cyan
	}
}

func symbolFor(s report.Status) string {
	switch s {
	case report.StatusPassed:
		return "✓"
	case report.StatusFailed:
		return "✗"
	case report.StatusInconclusive:
		return "?"
	default:
		return "-"
	}
}

// printSummary prints step totals and one table row per scenario.
func (c *console) printSummary(s *report.Summary) {
	var total, passed, failed, missing, skipped int
	for _, e := range s.Scenarios {
		total += e.StepCount.Total
		passed += e.StepCount.Passed
		failed += e.StepCount.Failed
		missing += e.StepCount.Pending + e.StepCount.Undefined
		skipped += e.StepCount.Skipped
	}

	var b strings.Builder
	b.WriteString("\n")
	if passed > 0 {
		fmt.Fprintf(&b, "  %s (%s)\n", c.green.Render(fmt.Sprintf("%d steps passing", passed)), formatDuration(s.Duration))
	}
	if failed > 0 {
		fmt.Fprintf(&b, "  %s\n", c.red.Render(fmt.Sprintf("%d steps failing", failed)))
	}
	if missing > 0 {
		fmt.Fprintf(&b, "  %s\n", c.amber.Render(fmt.Sprintf("%d steps pending or undefined", missing)))
	}
	if skipped > 0 {
		fmt.Fprintf(&b, "  %s\n", c.cyan.Render(fmt.Sprintf("%d steps skipped", skipped)))
	}
	b.WriteString("\n")

	rows := make([][]string, 0, len(s.Scenarios)+1)
	verdicts := make([]report.Status, 0, len(s.Scenarios))
	for _, e := range s.Scenarios {
		name := e.Title
		if len(name) > 42 {
			name = name[:39] + "..."
		}
		rows = append(rows, []string{
			name,
			symbolFor(e.Verdict) + " " + strings.ToUpper(string(e.Verdict)),
			fmt.Sprint(e.StepCount.Total),
			fmt.Sprint(e.StepCount.Passed),
			fmt.Sprint(e.StepCount.Failed),
			fmt.Sprint(e.StepCount.Skipped),
			formatDuration(e.Duration),
		})
		verdicts = append(verdicts, e.Verdict)
	}
	rows = append(rows, []string{
		"TOTAL",
		fmt.Sprintf("%d/%d", s.Counts.Passed, s.Counts.Total),
		fmt.Sprint(total), fmt.Sprint(passed), fmt.Sprint(failed), fmt.Sprint(skipped),
		formatDuration(s.Duration),
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(c.gray).
		Headers("Scenario", "Status", "Steps", "Pass", "Fail", "Skip", "Duration").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow || row == len(verdicts):
				return style.Inherit(c.bold)
			case col == 1 && row >= 0 && row < len(verdicts):
				return style.Inherit(c.styleFor(verdicts[row]))
			}
			return style
		})
	b.WriteString(t.String())
	b.WriteString("\n")

	fmt.Fprintf(&b, "\n  Verdict: %s\n", c.styleFor(s.Verdict).Render(strings.ToUpper(string(s.Verdict))))
	c.printf("%s", b.String())
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
