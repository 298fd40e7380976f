package scenario

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/feature"
)

type calculatorSteps struct {
	ctx   *Context
	total int
}

func (s *calculatorSteps) Init(r di.Resolver) error {
	ctx, err := di.Resolve[*Context](r)
	s.ctx = ctx
	return err
}

var stepsType = reflect.TypeOf(&calculatorSteps{})

func startScenario(t *testing.T, m *Manager, title string) *Context {
	t.Helper()
	ctx, err := m.InitializeScenarioContext(feature.ScenarioInfo{Title: title}, nil)
	require.NoError(t, err)
	return ctx
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(nil)
	_, err := m.InitializeFeatureContext(feature.Info{Title: "test feature", Language: language.AmericanEnglish}, language.Und)
	require.NoError(t, err)
	return m
}

func TestManager_ScenarioBeforeFeatureFails(t *testing.T) {
	m := NewManager(nil)
	_, err := m.InitializeScenarioContext(feature.ScenarioInfo{Title: "orphan"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrContextLifecycle)

	var le *LifecycleError
	assert.True(t, errors.As(err, &le))
}

func TestManager_FeatureContextsDoNotNest(t *testing.T) {
	m := newManager(t)
	_, err := m.InitializeFeatureContext(feature.Info{Title: "second"}, language.Und)
	assert.ErrorIs(t, err, core.ErrContextLifecycle)
}

func TestManager_BindingCultureDefaultsToFeatureLanguage(t *testing.T) {
	m := NewManager(nil)
	fc, err := m.InitializeFeatureContext(feature.Info{Title: "f", Language: language.German}, language.Und)
	require.NoError(t, err)
	assert.Equal(t, language.German, fc.BindingCulture)
	require.NoError(t, m.CleanupFeatureContext())

	fc, err = m.InitializeFeatureContext(feature.Info{Title: "f"}, language.MustParse("fr-FR"))
	require.NoError(t, err)
	assert.Equal(t, language.AmericanEnglish, fc.Info.Language)
	assert.Equal(t, language.MustParse("fr-FR"), fc.BindingCulture)
}

func TestManager_StatusIsMonotonic(t *testing.T) {
	m := newManager(t)
	startScenario(t, m, "s")

	pendingErr := errors.New("pending")
	undefinedErr := errors.New("undefined")

	sequence := []struct {
		status core.TestStatus
		err    error
		want   core.TestStatus
		last   error
	}{
		{core.StatusOK, nil, core.StatusOK, nil},
		{core.StatusStepDefinitionPending, pendingErr, core.StatusStepDefinitionPending, pendingErr},
		{core.StatusSkipped, errors.New("ignored"), core.StatusStepDefinitionPending, pendingErr},
		{core.StatusUndefinedStep, undefinedErr, core.StatusUndefinedStep, undefinedErr},
		{core.StatusUndefinedStep, errors.New("same severity"), core.StatusUndefinedStep, undefinedErr},
		{core.StatusOK, nil, core.StatusUndefinedStep, undefinedErr},
	}
	for i, s := range sequence {
		require.NoError(t, m.SetTestStatus(s.status, s.err))
		assert.Equal(t, s.want, m.TestStatus(), "after call %d", i)
		assert.Equal(t, s.last, m.LastError(), "after call %d", i)
	}
}

func TestManager_NewScenarioResetsState(t *testing.T) {
	m := newManager(t)
	startScenario(t, m, "first")
	require.NoError(t, m.SetTestStatus(core.StatusTestError, errors.New("boom")))
	require.NoError(t, m.CleanupScenarioContext())

	startScenario(t, m, "second")
	assert.Equal(t, core.StatusOK, m.TestStatus())
	assert.Nil(t, m.LastError())
}

func TestManager_BindingInstancesAreScenarioScoped(t *testing.T) {
	m := newManager(t)

	ctxA := startScenario(t, m, "A")
	a1, err := m.GetOrCreateBindingInstance(stepsType)
	require.NoError(t, err)
	a2, err := m.GetOrCreateBindingInstance(stepsType)
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Same(t, ctxA, a1.(*calculatorSteps).ctx)
	require.NoError(t, m.CleanupScenarioContext())

	ctxB := startScenario(t, m, "B")
	b, err := m.GetOrCreateBindingInstance(stepsType)
	require.NoError(t, err)
	assert.NotSame(t, a1, b)
	assert.Same(t, ctxB, b.(*calculatorSteps).ctx)
}

func TestManager_SetBindingInstance(t *testing.T) {
	m := newManager(t)

	seeded := &calculatorSteps{total: 42}
	assert.ErrorIs(t, m.SetBindingInstance(stepsType, seeded), core.ErrContextLifecycle)

	startScenario(t, m, "seeded")
	require.NoError(t, m.SetBindingInstance(stepsType, seeded))
	got, err := m.GetOrCreateBindingInstance(stepsType)
	require.NoError(t, err)
	assert.Same(t, seeded, got)
	assert.Nil(t, got.(*calculatorSteps).ctx, "a seeded instance is not resolved")

	assert.ErrorIs(t, m.SetBindingInstance(stepsType, "not steps"), core.ErrInvalidBinding)
	assert.ErrorIs(t, m.SetBindingInstance(stepsType, nil), core.ErrInvalidBinding)
	assert.ErrorIs(t, m.SetBindingInstance(nil, seeded), core.ErrInvalidBinding)
	require.NoError(t, m.CleanupScenarioContext())

	startScenario(t, m, "fresh")
	fresh, err := m.GetOrCreateBindingInstance(stepsType)
	require.NoError(t, err)
	assert.NotSame(t, seeded, fresh, "seeded instances end with their scenario")
}

func TestManager_ScopeFactoryIsCalledPerScenario(t *testing.T) {
	root := di.New()
	shared := &calculatorSteps{total: 7}
	var scenarioDefaults int
	provider := di.ProviderFuncs{
		TestRunnerDefaults: func(*di.Container) { scenarioDefaults++ },
	}
	require.NoError(t, di.Register(root, shared))

	m := NewManager(ContainerScopes(root, provider))
	_, err := m.InitializeFeatureContext(feature.Info{Title: "f"}, language.Und)
	require.NoError(t, err)

	for _, title := range []string{"one", "two"} {
		startScenario(t, m, title)
		v, err := m.GetOrCreateBindingInstance(stepsType)
		require.NoError(t, err)
		assert.Same(t, shared, v)
		require.NoError(t, m.CleanupScenarioContext())
	}
	assert.Equal(t, 2, scenarioDefaults)
}

func TestManager_DoubleCleanupFails(t *testing.T) {
	m := newManager(t)
	startScenario(t, m, "s")
	require.NoError(t, m.CleanupScenarioContext())
	assert.ErrorIs(t, m.CleanupScenarioContext(), core.ErrContextLifecycle)

	require.NoError(t, m.CleanupFeatureContext())
	assert.ErrorIs(t, m.CleanupFeatureContext(), core.ErrContextLifecycle)
}

func TestManager_FeatureCleanupWhileScenarioActive(t *testing.T) {
	m := newManager(t)
	startScenario(t, m, "s")
	assert.ErrorIs(t, m.CleanupFeatureContext(), core.ErrContextLifecycle)
	_, err := m.InitializeScenarioContext(feature.ScenarioInfo{Title: "nested"}, nil)
	assert.ErrorIs(t, err, core.ErrContextLifecycle)
}

func TestManager_OperationsWithoutScenario(t *testing.T) {
	m := newManager(t)

	_, err := m.GetOrCreateBindingInstance(stepsType)
	assert.ErrorIs(t, err, core.ErrContextLifecycle)
	assert.ErrorIs(t, m.SetTestStatus(core.StatusTestError, nil), core.ErrContextLifecycle)
	_, err = m.InitializeStepContext(StepInfo{Text: "x"})
	assert.ErrorIs(t, err, core.ErrContextLifecycle)
	assert.Equal(t, core.StatusOK, m.TestStatus())
}

func TestManager_StepContext(t *testing.T) {
	m := newManager(t)
	ctx := startScenario(t, m, "s")

	sc, err := m.InitializeStepContext(StepInfo{Keyword: feature.Given, Text: "I have 5 cukes"})
	require.NoError(t, err)
	assert.Same(t, sc, m.StepContext())
	assert.Equal(t, "I have 5 cukes", ctx.LastStep())

	_, err = m.InitializeStepContext(StepInfo{Text: "overlap"})
	assert.ErrorIs(t, err, core.ErrContextLifecycle)

	require.NoError(t, m.CleanupStepContext())
	assert.Nil(t, m.StepContext())
	assert.ErrorIs(t, m.CleanupStepContext(), core.ErrContextLifecycle)
}

func TestContext_TagsAndScope(t *testing.T) {
	m := NewManager(nil)
	_, err := m.InitializeFeatureContext(feature.Info{Title: "Checkout", Tags: []string{"@web"}}, language.Und)
	require.NoError(t, err)

	ctx, err := m.InitializeScenarioContext(
		feature.ScenarioInfo{Title: "Pay", Tags: []string{"@smoke"}},
		&feature.RuleInfo{Title: "Cards", Tags: []string{"@cards"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "cards", "smoke"}, ctx.Tags)

	sc := ctx.ScopeContext()
	assert.Equal(t, "Checkout", sc.FeatureTitle)
	assert.Equal(t, "Pay", sc.ScenarioTitle)
}

func TestUserData(t *testing.T) {
	m := newManager(t)
	ctx := startScenario(t, m, "s")

	ctx.Set("user", "ada")
	ctx.Set("count", 2)
	v, ok := ctx.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "ada", v)
	assert.Equal(t, []string{"count", "user"}, ctx.Keys())

	ctx.Delete("user")
	_, ok = ctx.Get("user")
	assert.False(t, ok)

	m.FeatureContext().Set("shared", true)
	v, _ = ctx.Feature.Get("shared")
	assert.Equal(t, true, v)
}
