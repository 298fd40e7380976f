package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/trace"
)

// basket accumulates per scenario and records whether it was closed.
type basket struct {
	items  int
	closed *int
	mu     *sync.Mutex
}

func (b *basket) Add(n int) { b.items += n }

func (b *basket) Total(n int) error {
	if b.items != n {
		return fmt.Errorf("basket holds %d items, expected %d", b.items, n)
	}
	return nil
}

func (b *basket) Close() error {
	if b.mu != nil {
		b.mu.Lock()
		*b.closed++
		b.mu.Unlock()
	}
	return nil
}

func basketRegistry(t *testing.T) *binding.Registry {
	t.Helper()
	reg := binding.NewRegistry()
	b := binding.NewBuilder(reg)
	binding.For[basket](b).
		When("I add {int} item(s)", (*basket).Add).
		Then("the basket holds {int} item(s)", (*basket).Total)
	require.NoError(t, b.Err())
	return reg
}

func step(k feature.Keyword, text string) feature.Step {
	return feature.Step{Keyword: k, Text: text}
}

func basketScenario(title string, add, expect int) feature.Scenario {
	return feature.Scenario{
		Info: feature.ScenarioInfo{Title: title},
		Steps: []feature.Step{
			step(feature.When, fmt.Sprintf("I add %d items", add)),
			step(feature.Then, fmt.Sprintf("the basket holds %d items", expect)),
		},
	}
}

func statuses(res *core.SuiteResult) []core.TestStatus {
	out := make([]core.TestStatus, len(res.Scenarios))
	for i, sc := range res.Scenarios {
		out[i] = sc.Status
	}
	return out
}

func TestRunner_RunSequential(t *testing.T) {
	reg := basketRegistry(t)
	features := []*feature.Feature{
		{Info: feature.Info{Title: "one"}, Scenarios: []feature.Scenario{
			basketScenario("adds two", 2, 2),
			basketScenario("wrong total", 2, 3),
		}},
		{Info: feature.Info{Title: "two"}, Scenarios: []feature.Scenario{
			{Info: feature.ScenarioInfo{Title: "undefined"}, Steps: []feature.Step{step(feature.When, "I remove everything")}},
		}},
	}

	r := New(reg, RunnerConfig{Name: "baskets"})
	res, err := r.Run(context.Background(), features)
	require.NoError(t, err)

	assert.True(t, reg.Sealed())
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "baskets", res.Name)
	assert.Equal(t, []core.TestStatus{core.StatusOK, core.StatusTestError, core.StatusUndefinedStep}, statuses(res))
	assert.Equal(t, "two", res.Scenarios[2].FeatureTitle)
	assert.Equal(t, 3, res.TotalScenarios)
	assert.Equal(t, 1, res.PassedScenarios)
	assert.Equal(t, 1, res.FailedScenarios)
	assert.Equal(t, 1, res.UndefinedScenarios)
	assert.Equal(t, core.StatusTestError, res.Status())
	assert.False(t, res.Success(core.MissingStepsInconclusive))
}

func TestRunner_Deterministic(t *testing.T) {
	features := []*feature.Feature{{Info: feature.Info{Title: "f"}, Scenarios: []feature.Scenario{
		basketScenario("a", 1, 1),
		basketScenario("b", 1, 2),
		{Info: feature.ScenarioInfo{Title: "c"}, Steps: []feature.Step{step(feature.Given, "nothing")}},
	}}}

	first, err := New(basketRegistry(t), RunnerConfig{}).Run(context.Background(), features)
	require.NoError(t, err)
	second, err := New(basketRegistry(t), RunnerConfig{}).Run(context.Background(), features)
	require.NoError(t, err)

	assert.Equal(t, statuses(first), statuses(second))
	for i := range first.Scenarios {
		assert.Equal(t, first.Scenarios[i].Error, second.Scenarios[i].Error)
	}
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunner_ParallelIsolation(t *testing.T) {
	var scenarios []feature.Scenario
	for i := 1; i <= 12; i++ {
		expect := i
		if i%4 == 0 {
			expect = -1
		}
		scenarios = append(scenarios, basketScenario(fmt.Sprintf("scenario %d", i), i, expect))
	}
	features := []*feature.Feature{{Info: feature.Info{Title: "parallel"}, Scenarios: scenarios}}

	var (
		mu     sync.Mutex
		closed int
		ends   int
	)
	r := New(basketRegistry(t), RunnerConfig{
		Parallelism: 4,
		Provider: di.ProviderFuncs{TestRunnerDefaults: func(c *di.Container) {
			di.RegisterFactoryFor(c, func(di.Resolver) (*basket, error) {
				return &basket{closed: &closed, mu: &mu}, nil
			})
		}},
		OnScenarioEnd: func(core.ScenarioResult) {
			mu.Lock()
			ends++
			mu.Unlock()
		},
	})
	res, err := r.Run(context.Background(), features)
	require.NoError(t, err)

	require.Len(t, res.Scenarios, 12)
	for i, sc := range res.Scenarios {
		assert.Equal(t, fmt.Sprintf("scenario %d", i+1), sc.Title, "results keep scenario order")
		if (i+1)%4 == 0 {
			assert.Equal(t, core.StatusTestError, sc.Status, sc.Title)
		} else {
			assert.Equal(t, core.StatusOK, sc.Status, sc.Title)
		}
	}
	assert.Equal(t, 12, ends)
	assert.Equal(t, 12, closed, "every scenario scope disposes its own basket")
}

// stepNumber returns the item count in "I add 3 items" or "the basket holds 3 items".
func stepNumber(text string) string {
	fields := strings.Fields(text)
	return fields[len(fields)-2]
}

func TestRunner_ParallelTraceEventsStayPaired(t *testing.T) {
	var scenarios []feature.Scenario
	for i := 1; i <= 8; i++ {
		expect := i
		if i%3 == 0 {
			expect = -1
		}
		scenarios = append(scenarios, basketScenario(fmt.Sprintf("scenario %d", i), i, expect))
	}
	features := []*feature.Feature{{Info: feature.Info{Title: "parallel"}, Scenarios: scenarios}}

	shared := trace.NewRecorder()
	var (
		mu     sync.Mutex
		unseen []string
	)
	r := New(basketRegistry(t), RunnerConfig{
		Parallelism: 4,
		Steps:       TestRunnerConfig{Tracer: shared},
		OnScenarioEnd: func(res core.ScenarioResult) {
			n := strings.TrimPrefix(res.Title, "scenario ")
			for _, e := range shared.Events() {
				if e.Kind == trace.KindStep && stepNumber(e.Step.Text) == n {
					return
				}
			}
			mu.Lock()
			unseen = append(unseen, res.Title)
			mu.Unlock()
		},
	})
	_, err := r.Run(context.Background(), features)
	require.NoError(t, err)

	events := shared.Events()
	require.Len(t, events, 8*4)
	for i := 0; i < len(events); i += 4 {
		block := events[i : i+4]
		require.Equal(t, trace.KindStep, block[0].Kind, "event %d", i)
		assert.True(t, block[1].Kind.Terminal(), "event %d follows its own step", i+1)
		require.Equal(t, trace.KindStep, block[2].Kind, "event %d", i+2)
		assert.True(t, block[3].Kind.Terminal(), "event %d follows its own step", i+3)
		assert.Equal(t, stepNumber(block[0].Step.Text), stepNumber(block[2].Step.Text), "one scenario per block")
	}
	assert.Empty(t, unseen, "scenario events are flushed before OnScenarioEnd")
}

func TestRunner_NewTracerPerScenario(t *testing.T) {
	var scenarios []feature.Scenario
	for i := 1; i <= 6; i++ {
		scenarios = append(scenarios, basketScenario(fmt.Sprintf("scenario %d", i), i, i))
	}
	features := []*feature.Feature{{Info: feature.Info{Title: "parallel"}, Scenarios: scenarios}}

	var (
		mu        sync.Mutex
		recorders []*trace.Recorder
	)
	shared := trace.NewRecorder()
	r := New(basketRegistry(t), RunnerConfig{
		Parallelism: 3,
		Steps:       TestRunnerConfig{Tracer: shared},
		NewTracer: func() trace.Tracer {
			rec := trace.NewRecorder()
			mu.Lock()
			recorders = append(recorders, rec)
			mu.Unlock()
			return rec
		},
	})
	_, err := r.Run(context.Background(), features)
	require.NoError(t, err)

	assert.Empty(t, shared.Events(), "the factory replaces the shared tracer")
	require.Len(t, recorders, 6)
	for _, rec := range recorders {
		assert.Equal(t, []trace.Kind{trace.KindStep, trace.KindDone, trace.KindStep, trace.KindDone}, rec.Kinds())
	}
}

func TestRunner_StopAtFirstError(t *testing.T) {
	features := []*feature.Feature{{Info: feature.Info{Title: "f"}, Scenarios: []feature.Scenario{
		basketScenario("ok", 1, 1),
		{Info: feature.ScenarioInfo{Title: "undefined"}, Steps: []feature.Step{step(feature.Given, "nothing")}},
		basketScenario("fails", 1, 2),
		basketScenario("never runs", 1, 1),
	}}}

	t.Run("inconclusive missing steps keep going", func(t *testing.T) {
		res, err := New(basketRegistry(t), RunnerConfig{StopAtFirstError: true}).Run(context.Background(), features)
		require.NoError(t, err)
		assert.Equal(t, []core.TestStatus{
			core.StatusOK, core.StatusUndefinedStep, core.StatusTestError, core.StatusSkipped,
		}, statuses(res))
		assert.Equal(t, "run stopped after a failed scenario", res.Scenarios[3].Error)
		assert.Equal(t, 2, res.Scenarios[3].SkippedSteps)
	})

	t.Run("missing steps as errors stop earlier", func(t *testing.T) {
		res, err := New(basketRegistry(t), RunnerConfig{
			StopAtFirstError:             true,
			MissingOrPendingStepsOutcome: core.MissingStepsError,
		}).Run(context.Background(), features)
		require.NoError(t, err)
		assert.Equal(t, []core.TestStatus{
			core.StatusOK, core.StatusUndefinedStep, core.StatusSkipped, core.StatusSkipped,
		}, statuses(res))
	})
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	features := []*feature.Feature{{Info: feature.Info{Title: "f"}, Scenarios: []feature.Scenario{
		basketScenario("a", 1, 1),
		basketScenario("b", 1, 1),
	}}}

	for _, parallelism := range []int{0, 2} {
		res, err := New(basketRegistry(t), RunnerConfig{Parallelism: parallelism}).Run(ctx, features)
		require.NoError(t, err)
		for _, sc := range res.Scenarios {
			assert.Equal(t, core.StatusSkipped, sc.Status)
			assert.Equal(t, "run cancelled", sc.Error)
		}
	}
}

func TestRunner_Callbacks(t *testing.T) {
	var (
		started []string
		steps   []string
		ended   []core.TestStatus
	)
	features := []*feature.Feature{{Info: feature.Info{Title: "f"}, Scenarios: []feature.Scenario{
		basketScenario("a", 1, 1),
		basketScenario("b", 2, 2),
	}}}

	r := New(basketRegistry(t), RunnerConfig{
		OnScenarioStart: func(idx, total int, featureTitle, scenarioTitle string) {
			started = append(started, fmt.Sprintf("%d/%d %s: %s", idx+1, total, featureTitle, scenarioTitle))
		},
		OnStepComplete: func(scenarioTitle string, s core.StepResult) {
			steps = append(steps, scenarioTitle+": "+s.Text)
		},
		OnScenarioEnd: func(res core.ScenarioResult) {
			ended = append(ended, res.Status)
		},
	})
	_, err := r.Run(context.Background(), features)
	require.NoError(t, err)

	assert.Equal(t, []string{"1/2 f: a", "2/2 f: b"}, started)
	assert.Equal(t, []string{
		"a: I add 1 items", "a: the basket holds 1 items",
		"b: I add 2 items", "b: the basket holds 2 items",
	}, steps)
	assert.Equal(t, []core.TestStatus{core.StatusOK, core.StatusOK}, ended)
}

func TestRunner_BindingCultureOverride(t *testing.T) {
	var prices []float64
	reg := binding.NewRegistry()
	b := binding.NewBuilder(reg)
	b.Given("the price is {float}", func(p float64) { prices = append(prices, p) })
	require.NoError(t, b.Err())

	features := []*feature.Feature{{
		Info: feature.Info{Title: "prices", Language: language.AmericanEnglish},
		Scenarios: []feature.Scenario{{
			Info:  feature.ScenarioInfo{Title: "decimal comma"},
			Steps: []feature.Step{step(feature.Given, "the price is 10,50")},
		}},
	}}

	res, err := New(reg, RunnerConfig{BindingCulture: language.German}).Run(context.Background(), features)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, res.Scenarios[0].Status)
	assert.Equal(t, []float64{10.5}, prices)
}

func TestRunner_RootContainer(t *testing.T) {
	reg := basketRegistry(t)
	r := New(reg, RunnerConfig{Provider: di.ProviderFuncs{Defaults: func(c *di.Container) {
		require.NoError(t, di.Register(c, "shared"))
	}}})

	got, err := di.Resolve[*binding.Registry](r.Container())
	require.NoError(t, err)
	assert.Same(t, reg, got)

	s, err := di.Resolve[string](r.Container())
	require.NoError(t, err)
	assert.Equal(t, "shared", s)
}
