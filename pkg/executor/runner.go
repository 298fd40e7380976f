// Package executor runs scenarios against the binding registry, one
// scenario's steps at a time.
package executor

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/convert"
	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/logger"
	"github.com/devicelab-dev/stepbind/pkg/scenario"
	"github.com/devicelab-dev/stepbind/pkg/trace"
)

// RunnerConfig configures a suite run.
type RunnerConfig struct {
	Name             string
	Parallelism      int          // Max concurrent scenarios (0 = sequential)
	StopAtFirstError bool         // Stop scheduling scenarios after the first failed one
	BindingCulture   language.Tag // Overrides each feature's language for argument conversion

	MissingOrPendingStepsOutcome core.MissingStepsOutcome

	// Step execution settings shared by every scenario
	Steps TestRunnerConfig

	// NewTracer gives each parallel scenario its own tracer. When nil, a
	// parallel scenario's events are buffered and flushed to Steps.Tracer as
	// one block once the scenario ends.
	NewTracer func() trace.Tracer

	// Services registered once on the root container and once per scenario scope
	Provider di.DefaultDependencyProvider

	// Live progress callbacks
	OnScenarioStart func(idx, total int, featureTitle, scenarioTitle string)
	OnStepComplete  func(scenarioTitle string, step core.StepResult)
	OnScenarioEnd   func(result core.ScenarioResult)
}

// Runner executes features against a registry.
type Runner struct {
	config   RunnerConfig
	registry *binding.Registry
	root     *di.Container

	traceMu sync.Mutex // serializes flushes into Steps.Tracer
}

// job is one scenario and its position in the run.
type job struct {
	feature  *feature.Feature
	scenario feature.Scenario
	index    int
}

// New creates a Runner. The provider's process-wide defaults are registered
// on the root container immediately.
func New(registry *binding.Registry, cfg RunnerConfig) *Runner {
	if cfg.Steps.Converter == nil {
		cfg.Steps.Converter = convert.New()
	}
	if cfg.MissingOrPendingStepsOutcome == "" {
		cfg.MissingOrPendingStepsOutcome = core.MissingStepsInconclusive
	}
	cfg.Steps.OnStepComplete = cfg.OnStepComplete

	root := di.New()
	_ = di.Register(root, registry)
	_ = root.RegisterInstance(reflect.TypeOf((*convert.Converter)(nil)).Elem(), cfg.Steps.Converter)
	if cfg.Provider != nil {
		cfg.Provider.RegisterDefaults(root)
	}

	return &Runner{config: cfg, registry: registry, root: root}
}

// Container returns the root container shared by all scenario scopes.
func (r *Runner) Container() *di.Container { return r.root }

// Run executes every scenario of features. The registry is sealed first.
// Scenario outcomes are reported in the result; the error is reserved for
// lifecycle violations.
func (r *Runner) Run(ctx context.Context, features []*feature.Feature) (*core.SuiteResult, error) {
	r.registry.Seal()

	var jobs []job
	for _, f := range features {
		for _, sc := range f.Scenarios {
			jobs = append(jobs, job{feature: f, scenario: sc, index: len(jobs)})
		}
	}

	suite := &core.SuiteResult{
		Name:      r.config.Name,
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	logger.Info("run %s: %d scenarios in %d features", suite.RunID, len(jobs), len(features))

	var (
		results []core.ScenarioResult
		err     error
	)
	if r.config.Parallelism <= 0 {
		results, err = r.runSequential(ctx, jobs)
	} else {
		results, err = r.runParallel(ctx, jobs)
	}

	suite.Scenarios = results
	suite.Duration = time.Since(suite.StartTime)
	suite.ComputeSummary()
	logger.Info("run %s finished: %s in %s", suite.RunID, suite.Status(), suite.Duration)
	return suite, err
}

// newTestRunner creates a TestRunner with its own context manager. A nil
// tracer keeps Steps.Tracer.
func (r *Runner) newTestRunner(tracer trace.Tracer) *TestRunner {
	steps := r.config.Steps
	if tracer != nil {
		steps.Tracer = tracer
	}
	contexts := scenario.NewManager(scenario.ContainerScopes(r.root, r.config.Provider))
	return NewTestRunner(r.registry, contexts, steps)
}

func (r *Runner) culture(f *feature.Feature) language.Tag {
	if r.config.BindingCulture != language.Und {
		return r.config.BindingCulture
	}
	return f.Info.Language
}

// runSequential runs all jobs on one TestRunner, opening each feature
// context once.
func (r *Runner) runSequential(ctx context.Context, jobs []job) ([]core.ScenarioResult, error) {
	results := make([]core.ScenarioResult, len(jobs))
	tr := r.newTestRunner(nil)
	var current *feature.Feature
	stop := ""

	for i, j := range jobs {
		if stop == "" && ctx.Err() != nil {
			stop = "run cancelled"
		}
		if stop != "" {
			results[i] = skippedResult(j, stop)
			continue
		}

		if current != j.feature {
			if current != nil {
				if err := tr.OnFeatureEnd(); err != nil {
					return results[:i], err
				}
			}
			if err := tr.OnFeatureStart(j.feature.Info, r.culture(j.feature)); err != nil {
				return results[:i], err
			}
			current = j.feature
		}

		res, err := r.runJob(ctx, tr, j, len(jobs), nil)
		if err != nil {
			return results[:i], err
		}
		results[i] = *res
		if r.shouldStop(*res) {
			stop = "run stopped after a failed scenario"
		}
	}

	if current != nil {
		if err := tr.OnFeatureEnd(); err != nil {
			return results, err
		}
	}
	return results, nil
}

// runJob runs one scenario. flush, when set, runs after the scenario's last
// step and before OnScenarioEnd.
func (r *Runner) runJob(ctx context.Context, tr *TestRunner, j job, total int, flush func()) (*core.ScenarioResult, error) {
	if r.config.OnScenarioStart != nil {
		r.config.OnScenarioStart(j.index, total, j.feature.Info.Title, j.scenario.Info.Title)
	}
	res, err := tr.RunScenario(ctx, j.feature, j.scenario)
	if flush != nil {
		flush()
	}
	if err != nil {
		return nil, err
	}
	if r.config.OnScenarioEnd != nil {
		r.config.OnScenarioEnd(*res)
	}
	return res, nil
}

func (r *Runner) shouldStop(res core.ScenarioResult) bool {
	return r.config.StopAtFirstError && res.Status.Verdict(r.config.MissingOrPendingStepsOutcome) == core.VerdictFailed
}

func skippedResult(j job, reason string) core.ScenarioResult {
	res := core.ScenarioResult{
		ID:           uuid.NewString(),
		FeatureTitle: j.feature.Info.Title,
		Title:        j.scenario.Info.Title,
		Tags:         j.scenario.EffectiveTags(j.feature),
		Status:       core.StatusSkipped,
		StartTime:    time.Now(),
		Error:        reason,
	}
	if j.scenario.Rule != nil {
		res.RuleTitle = j.scenario.Rule.Title
	}
	for _, steps := range [][]feature.Step{j.feature.Background, j.scenario.Steps} {
		for _, s := range steps {
			res.Steps = append(res.Steps, core.StepResult{
				Index:   len(res.Steps),
				Keyword: string(s.Keyword),
				Text:    s.Text,
				Status:  core.StepSkipped,
			})
		}
	}
	res.ComputeSummary()
	return res
}

// stopFlag is shared by parallel workers.
type stopFlag struct {
	mu     sync.Mutex
	reason string
}

func (s *stopFlag) set(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *stopFlag) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
