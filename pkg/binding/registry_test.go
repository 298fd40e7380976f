package binding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/feature"
)

func newDef(t *testing.T, bucket Bucket, pattern string, fn interface{}, scopes ...Scope) *StepDefinition {
	t.Helper()
	m, err := NewFuncMethod("", fn)
	require.NoError(t, err)
	return &StepDefinition{Bucket: bucket, Pattern: MustPattern(pattern, AutoDetect), Method: m, Scopes: scopes}
}

func when(text string) StepInstance {
	return StepInstance{Bucket: When, Text: text}
}

func TestRegistry_DuplicateBinding(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newDef(t, When, `^I have (\d+) cukes$`, func(int) {})))

	err := r.Register(newDef(t, When, `^I have (\d+) cukes$`, func(int) {}))
	require.Error(t, err)
	var dup *DuplicateBindingError
	assert.True(t, errors.As(err, &dup))
	assert.ErrorIs(t, err, core.ErrDuplicateBinding)

	// Same pattern but a different bucket or parameter signature is distinct.
	assert.NoError(t, r.Register(newDef(t, Given, `^I have (\d+) cukes$`, func(int) {})))
	assert.NoError(t, r.Register(newDef(t, When, `^I have (\d+) cukes$`, func(string) {})))
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_MatchUnique(t *testing.T) {
	r := NewRegistry()
	def := newDef(t, When, `^I have (\d+) cukes$`, func(int) {})
	require.NoError(t, r.Register(def))

	res := r.Match(when("I have 5 cukes"))
	require.Equal(t, Found, res.Kind)
	assert.Same(t, def, res.Match.Definition)
	assert.Equal(t, []string{"5"}, res.Match.Arguments)
	assert.NoError(t, res.Err(when("I have 5 cukes")))
}

func TestRegistry_MatchIsDeterministic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newDef(t, When, `^I have (\d+) cukes$`, func(int) {})))
	require.NoError(t, r.Register(newDef(t, Any, `^I have (.*) cukes$`, func(string) {})))

	first := r.Match(when("I have 5 cukes"))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Match(when("I have 5 cukes")))
	}
}

func TestRegistry_AmbiguousListsAllCandidates(t *testing.T) {
	r := NewRegistry()
	a := newDef(t, When, `^I have (\d+) cukes$`, func(int) {})
	b := newDef(t, Any, `^I have (.*) cukes$`, func(string) {})
	c := newDef(t, When, `^I have no cukes$`, func() {})
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(c))

	step := when("I have 5 cukes")
	res := r.Match(step)
	require.Equal(t, Ambiguous, res.Kind)
	require.Len(t, res.Candidates, 2)
	assert.Same(t, a, res.Candidates[0].Definition)
	assert.Same(t, b, res.Candidates[1].Definition)

	err := res.Err(step)
	assert.ErrorIs(t, err, core.ErrAmbiguousBinding)
	var amb *AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Len(t, amb.Candidates, 2)
}

func TestRegistry_NoMatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newDef(t, When, `^I have (\d+) cukes$`, func(int) {})))

	step := when("I have five cukes")
	res := r.Match(step)
	assert.Equal(t, NoMatch, res.Kind)
	assert.Empty(t, res.OutOfScope)
	assert.ErrorIs(t, res.Err(step), core.ErrNoMatchingBinding)
}

func TestRegistry_BucketFilter(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newDef(t, Given, `^a basket$`, func() {})))

	assert.Equal(t, NoMatch, r.Match(when("a basket")).Kind)
	assert.Equal(t, Found, r.Match(StepInstance{Bucket: Given, Text: "a basket"}).Kind)
}

func TestRegistry_ScopeFilteredBeforeTextMatch(t *testing.T) {
	r := NewRegistry()
	web := newDef(t, When, `^I log in$`, func() {}, Scope{Tags: []string{"web"}})
	api := newDef(t, When, `^I log in$`, func() {}, Scope{Tags: []string{"api"}}, Scope{Feature: "Login"})
	require.NoError(t, r.Register(web))
	require.NoError(t, r.Register(api))

	// Both match textually but only one is in scope: no ambiguity.
	res := r.Match(StepInstance{Bucket: When, Text: "I log in", Scope: ScopeContext{Tags: []string{"@web"}}})
	require.Equal(t, Found, res.Kind)
	assert.Same(t, web, res.Match.Definition)

	// Scopes are OR-ed.
	res = r.Match(StepInstance{Bucket: When, Text: "I log in", Scope: ScopeContext{FeatureTitle: "Login"}})
	require.Equal(t, Found, res.Kind)
	assert.Same(t, api, res.Match.Definition)

	// Neither in scope: no match, both reported for diagnostics.
	res = r.Match(StepInstance{Bucket: When, Text: "I log in", Scope: ScopeContext{Tags: []string{"mobile"}}})
	require.Equal(t, NoMatch, res.Kind)
	assert.Len(t, res.OutOfScope, 2)
}

func TestScope_Matches(t *testing.T) {
	sc := ScopeContext{FeatureTitle: "Checkout", ScenarioTitle: "Pay", Tags: []string{"smoke", "@Web"}}

	assert.True(t, Scope{}.Matches(sc))
	assert.True(t, Scope{Tags: []string{"web", "smoke"}}.Matches(sc))
	assert.False(t, Scope{Tags: []string{"web", "slow"}}.Matches(sc))
	assert.True(t, Scope{Feature: "Checkout", Scenario: "Pay"}.Matches(sc))
	assert.False(t, Scope{Feature: "Checkout", Scenario: "Refund"}.Matches(sc))
	assert.Equal(t, `@web feature="Checkout"`, Scope{Tags: []string{"web"}, Feature: "Checkout"}.String())
}

func TestRegistry_TrailingMultilineParameter(t *testing.T) {
	r := NewRegistry()
	def := newDef(t, Given, `^the following users:$`, func(*feature.Table) {})
	require.NoError(t, r.Register(def))

	assert.Equal(t, Found, r.Match(StepInstance{Bucket: Given, Text: "the following users:", HasArgument: true}).Kind)
	require.NoError(t, r.Register(newDef(t, Given, `^the note reads:$`, func(string) {})))
	require.NoError(t, r.Register(newDef(t, Given, `^(\d+) rows:$`, func(int, []map[string]string) {})))
	// Without the table the parameter count no longer fits.
	assert.Equal(t, NoMatch, r.Match(StepInstance{Bucket: Given, Text: "the following users:"}).Kind)
}

func TestRegistry_RejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry()

	err := r.Register(newDef(t, When, `^I have (\d+) cukes and (\d+) gherkins$`, func(int) {}))
	assert.ErrorIs(t, err, core.ErrInvalidBinding)

	// A missing capture cannot be filled by a table or doc string when the
	// trailing parameter is a number.
	err = r.Register(newDef(t, When, `^I have (?:\d{2}) cukes$`, func(int) {}))
	assert.ErrorIs(t, err, core.ErrInvalidBinding)

	err = r.Register(newDef(t, When, `^I call back$`, func(func()) {}))
	assert.ErrorIs(t, err, core.ErrInvalidBinding)

	assert.ErrorIs(t, r.Register(nil), core.ErrInvalidBinding)
	assert.Zero(t, r.Len())
}

func TestRegistry_Sealed(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newDef(t, When, `^one$`, func() {})))
	r.Seal()
	assert.True(t, r.Sealed())

	err := r.Register(newDef(t, When, `^two$`, func() {}))
	assert.ErrorIs(t, err, core.ErrInvalidBinding)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Suggest(t *testing.T) {
	r := NewRegistry()
	cukes := newDef(t, When, `^I have (\d+) cukes$`, func(int) {})
	require.NoError(t, r.Register(cukes))
	require.NoError(t, r.Register(newDef(t, When, `the weather is {word}`, func(string) {})))
	require.NoError(t, r.Register(newDef(t, Then, `^I have (\d+) cukes left$`, func(int) {})))

	got := r.Suggest(When, "I have five cukes", 3)
	require.NotEmpty(t, got)
	assert.Same(t, cukes, got[0])
	for _, def := range got {
		assert.NotEqual(t, Then, def.Bucket)
	}

	assert.Empty(t, r.Suggest(When, "completely unrelated sentence about nothing", 3))
	assert.Nil(t, r.Suggest(When, "I have five cukes", 0))
}
