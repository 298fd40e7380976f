package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/scenario"
)

// Console writes a human-readable trace.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	step    lipgloss.Style
	done    lipgloss.Style
	skipped lipgloss.Style
	pending lipgloss.Style
	failed  lipgloss.Style
	hint    lipgloss.Style
}

// ConsoleOptions configures a Console.
type ConsoleOptions struct {
	NoColor bool
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer, opts ConsoleOptions) *Console {
	c := &Console{out: w}
	if opts.NoColor {
		return c
	}

	r := lipgloss.NewRenderer(w)
	c.step = r.NewStyle().Bold(true)
	c.done = r.NewStyle().Foreground(lipgloss.Color("42"))
	c.skipped = r.NewStyle().Foreground(lipgloss.Color("245"))
	c.pending = r.NewStyle().Foreground(lipgloss.Color("214"))
	c.failed = r.NewStyle().Foreground(lipgloss.Color("196"))
	c.hint = r.NewStyle().Foreground(lipgloss.Color("242")).Italic(true)
	return c
}

func (c *Console) println(style lipgloss.Style, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style.Render(fmt.Sprintf(format, args...)))
}

func (c *Console) TraceStep(step scenario.StepInfo) {
	c.println(c.step, "%s %s", step.Keyword, step.Text)
}

func (c *Console) TraceWarning(text string) {
	c.println(c.pending, "-> warning: %s", text)
}

func (c *Console) TraceStepDone(match binding.Match, args []interface{}, d time.Duration) {
	c.println(c.done, "-> done: %s (%s)", call(match, args), seconds(d))
}

func (c *Console) TraceStepSkipped() {
	c.println(c.skipped, "-> skipped because of previous errors")
}

func (c *Console) TraceStepPending(match binding.Match, args []interface{}) {
	c.println(c.pending, "-> pending: %s", call(match, args))
}

func (c *Console) TraceBindingError(err error) {
	c.println(c.failed, "-> binding error: %v", err)
}

func (c *Console) TraceError(err error, d time.Duration) {
	c.println(c.failed, "-> error: %v (%s)", err, seconds(d))
}

func (c *Console) TraceNoMatchingStepDefinition(step scenario.StepInfo, missing Missing) {
	c.println(c.pending, "-> No matching step definition found for the step. Use the following code to create one:")
	c.println(c.hint, "%s", indent(Skeleton(step, missing.Language, missing.Style), "        "))

	for _, m := range missing.OutOfScope {
		c.println(c.hint, "   (matched %s outside its scope)", m.Definition)
	}
	for _, def := range missing.NearMisses {
		c.println(c.hint, "   did you mean: %s", def.Pattern.Source())
	}
}

func (c *Console) TraceDuration(d time.Duration, subject string) {
	c.println(c.skipped, "-> duration: %s: %s", subject, seconds(d))
}

func call(match binding.Match, args []interface{}) string {
	name := "<unknown>"
	if match.Definition != nil {
		name = match.Definition.Method.Name()
	}
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = fmt.Sprintf("%q", v)
		case *feature.Table:
			parts[i] = fmt.Sprintf("<table %dx%d>", v.RowCount(), len(v.Header))
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
