package binding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/stepbind/pkg/core"
)

func TestBuilder_RegistersDefinitions(t *testing.T) {
	r := NewRegistry()
	b := NewBuilder(r)

	For[cukeSteps](b).
		Given(`^I have (\d+) cukes$`, (*cukeSteps).HaveCukes).
		When("I eat {int} cuke(s)", (*cukeSteps).EatCukes, WithTags("hungry"))
	b.Then("nothing happens", func() {}, Named("Nothing"))
	b.Step(`^anything$`, func() {})

	require.NoError(t, b.Err())
	require.Equal(t, 4, r.Len())

	defs := r.StepDefinitions()
	assert.Equal(t, Given, defs[0].Bucket)
	assert.Equal(t, "cukeSteps.HaveCukes", defs[0].Method.Name())
	assert.Equal(t, Expression, defs[1].Pattern.Kind())
	assert.Equal(t, []Scope{{Tags: []string{"hungry"}}}, defs[1].Scopes)
	assert.Equal(t, "Nothing", defs[2].Method.Name())
	assert.Equal(t, Any, defs[3].Bucket)

	res := r.Match(StepInstance{Bucket: When, Text: "I eat 2 cukes", Scope: ScopeContext{Tags: []string{"hungry"}}})
	require.Equal(t, Found, res.Kind)

	s := &cukeSteps{count: 3}
	require.NoError(t, res.Match.Definition.Method.Invoke(context.Background(), s, []interface{}{2}))
	assert.Equal(t, 1, s.count)
}

func TestBuilder_CollectsErrors(t *testing.T) {
	b := NewBuilder(NewRegistry())

	b.Given("I have {nonsense}", func(string) {})
	b.When("I do {int} things", func(int, int, int) {})
	b.Then("it is done", 42)
	For[cukeSteps](b).Given("I have {int}", func(n int) {})
	b.When(`^dup$`, func() {}).When(`^dup$`, func() {})

	err := b.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidBinding)
	assert.ErrorIs(t, err, core.ErrDuplicateBinding)
	assert.Contains(t, err.Error(), "method expression")
}

func TestBuilder_AsRegexAndAsExpression(t *testing.T) {
	r := NewRegistry()
	b := NewBuilder(r)

	b.Given("I have {int} cuke(s)", func(int) {}, AsExpression())
	b.Given("I have {int} cuke(s)", func(string) {}, AsRegex())
	require.NoError(t, b.Err())

	res := r.Match(StepInstance{Bucket: Given, Text: "I have 2 cukes"})
	require.Equal(t, Found, res.Kind)
	assert.Equal(t, Expression, res.Match.Definition.Pattern.Kind())

	res = r.Match(StepInstance{Bucket: Given, Text: "I have {int} cukes"})
	require.Equal(t, Found, res.Kind)
	assert.Equal(t, Regex, res.Match.Definition.Pattern.Kind())
	assert.Equal(t, []string{"s"}, res.Match.Arguments)
}
