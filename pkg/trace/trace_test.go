package trace

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/scenario"
)

func cukesMatch(t *testing.T) binding.Match {
	t.Helper()
	m, err := binding.NewFuncMethod("Steps.HaveCukes", func(int) {})
	require.NoError(t, err)
	def := &binding.StepDefinition{Bucket: binding.When, Pattern: binding.MustPattern(`^I have (\d+) cukes$`, binding.Regex), Method: m}
	return binding.Match{Definition: def, Arguments: []string{"5"}}
}

func TestRecorder_KeepsOrder(t *testing.T) {
	r := NewRecorder()
	step := scenario.StepInfo{Keyword: feature.When, Text: "I have 5 cukes"}

	r.TraceStep(step)
	r.TraceStepDone(cukesMatch(t), []interface{}{5}, time.Millisecond)
	r.TraceDuration(time.Millisecond, "Steps.HaveCukes")
	r.TraceStep(step)
	r.TraceStepSkipped()

	assert.Equal(t, []Kind{KindStep, KindDone, KindDuration, KindStep, KindSkipped}, r.Kinds())
	terminal := r.Terminal()
	require.Len(t, terminal, 2)
	assert.Equal(t, []interface{}{5}, terminal[0].Arguments)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi{a, b, Nop{}}

	m.TraceWarning("careful")
	m.TraceBindingError(errors.New("bad"))
	m.TraceError(errors.New("worse"), time.Second)

	want := []Kind{KindWarning, KindBindingError, KindError}
	assert.Equal(t, want, a.Kinds())
	assert.Equal(t, want, b.Kinds())
}

func TestRecorder_Replay(t *testing.T) {
	src, dst := NewRecorder(), NewRecorder()
	step := scenario.StepInfo{Keyword: feature.Given, Text: "I have 5 cukes"}
	boom := errors.New("boom")

	src.TraceStep(step)
	src.TraceWarning("slow")
	src.TraceStepDone(cukesMatch(t), []interface{}{5}, time.Millisecond)
	src.TraceStep(step)
	src.TraceStepPending(cukesMatch(t), []interface{}{5})
	src.TraceStep(step)
	src.TraceNoMatchingStepDefinition(step, Missing{})
	src.TraceBindingError(boom)
	src.TraceError(boom, time.Second)
	src.TraceStepSkipped()
	src.TraceDuration(2*time.Millisecond, "Steps.HaveCukes")

	src.Replay(dst)
	assert.Equal(t, src.Events(), dst.Events())
}

func TestConsole_Lines(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, ConsoleOptions{NoColor: true})

	c.TraceStep(scenario.StepInfo{Keyword: feature.When, Text: "I have 5 cukes"})
	c.TraceStepDone(cukesMatch(t), []interface{}{5}, 0)
	c.TraceStepSkipped()
	c.TraceStepPending(cukesMatch(t), []interface{}{"x"})
	c.TraceError(errors.New("boom"), 1500*time.Millisecond)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"When I have 5 cukes",
		"-> done: Steps.HaveCukes(5) (0.0s)",
		"-> skipped because of previous errors",
		`-> pending: Steps.HaveCukes("x")`,
		"-> error: boom (1.5s)",
	}, lines)
}

func TestConsole_NoMatchPrintsSkeletonAndHints(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, ConsoleOptions{NoColor: true})

	match := cukesMatch(t)
	c.TraceNoMatchingStepDefinition(
		scenario.StepInfo{Keyword: feature.When, Bucket: binding.When, Text: "I have five cukes"},
		Missing{Language: LanguageGo, Style: StyleExpression, NearMisses: []*binding.StepDefinition{match.Definition}},
	)

	out := buf.String()
	assert.Contains(t, out, "No matching step definition found for the step")
	assert.Contains(t, out, `When(`+"`I have five cukes`"+`, (*StepDefinitions).IHaveFiveCukes)`)
	assert.Contains(t, out, `did you mean: ^I have (\d+) cukes$`)
}

func TestSkeleton_Go(t *testing.T) {
	step := scenario.StepInfo{Keyword: feature.Given, Bucket: binding.Given, Text: `the user "ada" has 3 items costing 2.50`}

	got := Skeleton(step, LanguageGo, StyleExpression)
	assert.Contains(t, got, "binding.For[StepDefinitions](b).Given(`the user {string} has {int} items costing {float}`, (*StepDefinitions).TheUserHasItemsCosting)")
	assert.Contains(t, got, "func (s *StepDefinitions) TheUserHasItemsCosting(p0 string, p1 int, p2 float64) error {")
	assert.Contains(t, got, `return core.Pending("")`)

	got = Skeleton(step, LanguageGo, StyleRegex)
	assert.Contains(t, got, "`^the user \"([^\"]*)\" has (-?\\d+) items costing (-?\\d+(?:[.,]\\d+)?)$`")
}

func TestSkeleton_TableArgumentAndEscaping(t *testing.T) {
	step := scenario.StepInfo{
		Keyword:  feature.And,
		Bucket:   binding.Then,
		Text:     "the totals (in EUR) are:",
		Argument: feature.NewTable([]string{"a"}),
	}

	got := Skeleton(step, LanguageGo, StyleExpression)
	assert.Contains(t, got, ".Then(`the totals \\(in EUR) are:`")
	assert.Contains(t, got, "TheTotalsInEURAre(p0 *feature.Table)")
}

func TestSkeleton_JavaScript(t *testing.T) {
	step := scenario.StepInfo{Keyword: feature.When, Bucket: binding.When, Text: "I eat 2 cukes"}

	got := Skeleton(step, LanguageJavaScript, StyleExpression)
	assert.Equal(t, "- when: \"I eat {int} cukes\"\n  params: [int]\n  script: |\n    function (p0) {\n      pending();\n    }\n", got)
}

func TestParseOptions(t *testing.T) {
	lang, err := ParseTargetLanguage("JS")
	require.NoError(t, err)
	assert.Equal(t, LanguageJavaScript, lang)
	_, err = ParseTargetLanguage("cobol")
	assert.Error(t, err)

	style, err := ParseSkeletonStyle("")
	require.NoError(t, err)
	assert.Equal(t, StyleExpression, style)
	_, err = ParseSkeletonStyle("glob")
	assert.Error(t, err)
}
