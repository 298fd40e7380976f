package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/convert"
	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/logger"
	"github.com/devicelab-dev/stepbind/pkg/scenario"
	"github.com/devicelab-dev/stepbind/pkg/trace"
)

// State is the position of a TestRunner within one scenario.
type State int

const (
	StateReady State = iota
	StateExecuting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// IgnoreTag marks scenarios that are reported skipped without executing.
const IgnoreTag = "ignore"

// TestRunnerConfig configures a TestRunner.
type TestRunnerConfig struct {
	Converter convert.Converter // Defaults to convert.New()
	Tracer    trace.Tracer      // Defaults to trace.Nop

	// Undefined step diagnostics
	TargetLanguage trace.TargetLanguage
	SkeletonStyle  trace.SkeletonStyle
	Suggestions    int // Near-miss definitions to report (0 = none)

	// Duration events for invoked steps at or above MinTracedDuration
	TraceTimings      bool
	MinTracedDuration time.Duration

	OnStepComplete func(scenarioTitle string, step core.StepResult)
}

// TestRunner drives the steps of one scenario at a time through matching,
// argument conversion and invocation. It is not safe for concurrent use.
type TestRunner struct {
	registry *binding.Registry
	contexts *scenario.Manager
	config   TestRunnerConfig

	state    State
	previous binding.Bucket
	result   *core.ScenarioResult
	start    time.Time
}

// NewTestRunner creates a TestRunner using contexts for its state.
func NewTestRunner(registry *binding.Registry, contexts *scenario.Manager, cfg TestRunnerConfig) *TestRunner {
	if cfg.Converter == nil {
		cfg.Converter = convert.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop{}
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = trace.LanguageGo
	}
	if cfg.SkeletonStyle == "" {
		cfg.SkeletonStyle = trace.StyleExpression
	}
	return &TestRunner{
		registry: registry,
		contexts: contexts,
		config:   cfg,
		state:    StateCompleted,
		previous: binding.Any,
	}
}

// State returns the current state.
func (r *TestRunner) State() State { return r.state }

// Contexts returns the context manager.
func (r *TestRunner) Contexts() *scenario.Manager { return r.contexts }

// OnFeatureStart initializes the feature context.
func (r *TestRunner) OnFeatureStart(info feature.Info, culture language.Tag) error {
	_, err := r.contexts.InitializeFeatureContext(info, culture)
	return err
}

// OnFeatureEnd cleans up the feature context.
func (r *TestRunner) OnFeatureEnd() error {
	return r.contexts.CleanupFeatureContext()
}

// OnScenarioStart initializes the scenario context and moves to Ready.
// Scenarios tagged @ignore start in the Skipped status so none of their
// steps execute.
func (r *TestRunner) OnScenarioStart(info feature.ScenarioInfo, rule *feature.RuleInfo) error {
	ctx, err := r.contexts.InitializeScenarioContext(info, rule)
	if err != nil {
		return err
	}

	r.state = StateReady
	r.previous = binding.Any
	r.start = time.Now()
	r.result = &core.ScenarioResult{
		ID:           uuid.NewString(),
		FeatureTitle: ctx.Feature.Info.Title,
		Title:        info.Title,
		Tags:         ctx.Tags,
		StartTime:    r.start,
	}
	if rule != nil {
		r.result.RuleTitle = rule.Title
	}

	if feature.HasTag(ctx.Tags, IgnoreTag) {
		logger.Info("scenario %q is ignored", info.Title)
		return r.contexts.SetTestStatus(core.StatusSkipped, nil)
	}
	logger.Debug("scenario started: %q", info.Title)
	return nil
}

// Given executes a Given step. arg is nil, a *feature.Table or a feature.DocString.
func (r *TestRunner) Given(ctx context.Context, text string, arg interface{}) (core.StepResult, error) {
	return r.ExecuteStep(ctx, newStep(feature.Given, text, arg))
}

// When executes a When step.
func (r *TestRunner) When(ctx context.Context, text string, arg interface{}) (core.StepResult, error) {
	return r.ExecuteStep(ctx, newStep(feature.When, text, arg))
}

// Then executes a Then step.
func (r *TestRunner) Then(ctx context.Context, text string, arg interface{}) (core.StepResult, error) {
	return r.ExecuteStep(ctx, newStep(feature.Then, text, arg))
}

// And executes a step of the same kind as the previous one.
func (r *TestRunner) And(ctx context.Context, text string, arg interface{}) (core.StepResult, error) {
	return r.ExecuteStep(ctx, newStep(feature.And, text, arg))
}

// But executes a step of the same kind as the previous one.
func (r *TestRunner) But(ctx context.Context, text string, arg interface{}) (core.StepResult, error) {
	return r.ExecuteStep(ctx, newStep(feature.But, text, arg))
}

func newStep(k feature.Keyword, text string, arg interface{}) feature.Step {
	step := feature.Step{Keyword: k, Text: text}
	switch a := arg.(type) {
	case *feature.Table:
		step.Table = a
	case feature.DocString:
		step.DocString = &a
	case *feature.DocString:
		step.DocString = a
	case string:
		step.DocString = &feature.DocString{Content: a}
	}
	return step
}

// ExecuteStep processes one step. Undefined, ambiguous, failing and pending
// steps are recorded in the scenario status and the returned StepResult; the
// error result is reserved for lifecycle violations.
func (r *TestRunner) ExecuteStep(ctx context.Context, step feature.Step) (core.StepResult, error) {
	sc := r.contexts.ScenarioContext()
	if sc == nil || r.result == nil || r.state == StateCompleted {
		return core.StepResult{}, &scenario.LifecycleError{Op: "execute step", Reason: "no scenario is running"}
	}
	r.state = StateExecuting

	bucket := binding.ResolveBucket(step.Keyword, r.previous)
	r.previous = bucket
	info := scenario.StepInfo{
		Keyword:  step.Keyword,
		Bucket:   bucket,
		Text:     step.Text,
		Argument: step.Argument(),
		Index:    len(r.result.Steps),
	}
	if _, err := r.contexts.InitializeStepContext(info); err != nil {
		return core.StepResult{}, err
	}
	defer r.contexts.CleanupStepContext()

	r.config.Tracer.TraceStep(info)
	started := time.Now()

	out := r.process(ctx, sc, info)
	if err := r.record(sc, info, out); err != nil {
		return core.StepResult{}, err
	}

	res := core.StepResult{
		Index:     info.Index,
		Keyword:   string(step.Keyword),
		Text:      step.Text,
		Arguments: out.args,
		Status:    out.stepStatus(),
		Category:  out.category(),
		StartTime: started,
		Duration:  time.Since(started),
	}
	if out.match.Definition != nil {
		res.Binding = out.match.Definition.Method.Name()
	}
	if out.err != nil {
		res.Error = out.err.Error()
	}
	r.result.Steps = append(r.result.Steps, res)

	if r.config.OnStepComplete != nil {
		r.config.OnStepComplete(sc.Info.Title, res)
	}
	return res, nil
}

// process decides what happens to the step without touching status or tracer.
func (r *TestRunner) process(ctx context.Context, sc *scenario.Context, info scenario.StepInfo) stepOutcome {
	if sc.TestStatus().SuppressesExecution() {
		return stepOutcome{kind: outcomeSkipped}
	}

	inst := binding.StepInstance{
		Bucket:      info.Bucket,
		Text:        info.Text,
		HasArgument: info.Argument != nil,
		Scope:       sc.ScopeContext(),
	}
	res := r.registry.Match(inst)
	switch res.Kind {
	case binding.NoMatch:
		return stepOutcome{kind: outcomeUndefined, err: res.Err(inst), outOfScope: res.OutOfScope}
	case binding.Ambiguous:
		return stepOutcome{kind: outcomeAmbiguous, err: res.Err(inst)}
	}

	match := res.Match
	args, err := r.convertArguments(match, info.Argument, sc.Feature.BindingCulture)
	if err != nil {
		return stepOutcome{kind: outcomeConversionFailed, match: match, err: err}
	}

	var instance interface{}
	if t := match.Definition.Method.BindingType(); t != nil {
		instance, err = r.contexts.GetOrCreateBindingInstance(t)
		if err != nil {
			return stepOutcome{kind: outcomeInvocationFailed, match: match, args: args,
				err: core.ErrBindingInvocation.WithMessage(fmt.Sprintf("cannot create %s", t)).WithCause(err)}
		}
	}

	start := time.Now()
	err = match.Definition.Method.Invoke(ctx, instance, args)
	out := stepOutcome{match: match, args: args, err: err, invoked: true, duration: time.Since(start)}
	switch {
	case err == nil:
		out.kind = outcomeOK
	case binding.IsPending(err):
		out.kind = outcomePending
	default:
		out.kind = outcomeInvocationFailed
	}
	return out
}

func (r *TestRunner) convertArguments(match binding.Match, multiline interface{}, culture language.Tag) ([]interface{}, error) {
	params := match.Definition.Method.ParamTypes()
	args := make([]interface{}, 0, len(params))

	for i, raw := range match.Arguments {
		v, err := r.config.Converter.Convert(raw, params[i], culture)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", match.Definition.Method.Name(), i+1, err)
		}
		args = append(args, v)
	}
	if multiline != nil {
		v, err := r.config.Converter.Convert(multiline, params[len(params)-1], culture)
		if err != nil {
			return nil, fmt.Errorf("%s multiline argument: %w", match.Definition.Method.Name(), err)
		}
		args = append(args, v)
	}
	return args, nil
}

// record applies an outcome to the scenario status and emits the step's
// terminal trace event.
func (r *TestRunner) record(sc *scenario.Context, info scenario.StepInfo, out stepOutcome) error {
	tracer := r.config.Tracer

	if out.invoked && r.config.TraceTimings && out.duration >= r.config.MinTracedDuration {
		tracer.TraceDuration(out.duration, out.match.Definition.Method.Name())
	}

	var status core.TestStatus
	switch out.kind {
	case outcomeSkipped:
		tracer.TraceStepSkipped()
		return nil
	case outcomeOK:
		tracer.TraceStepDone(out.match, out.args, out.duration)
		return nil
	case outcomePending:
		status = core.StatusStepDefinitionPending
		tracer.TraceStepPending(out.match, out.args)
		logger.Info("step %q is pending: %v", info.Text, out.err)
	case outcomeUndefined:
		status = core.StatusUndefinedStep
		missing := trace.Missing{
			Language:   r.config.TargetLanguage,
			Style:      r.config.SkeletonStyle,
			OutOfScope: out.outOfScope,
		}
		if r.config.Suggestions > 0 {
			missing.NearMisses = r.registry.Suggest(info.Bucket, info.Text, r.config.Suggestions)
		}
		tracer.TraceNoMatchingStepDefinition(info, missing)
		logger.Warn("%v", out.err)
	case outcomeAmbiguous, outcomeConversionFailed:
		status = core.StatusBindingError
		tracer.TraceBindingError(out.err)
		logger.Warn("binding error in %q: %v", sc.Info.Title, out.err)
	case outcomeInvocationFailed:
		status = core.StatusTestError
		tracer.TraceError(out.err, out.duration)
		logger.Warn("step %q failed: %v", info.Text, out.err)
	}
	return r.contexts.SetTestStatus(status, out.err)
}

// CollectScenarioErrors moves to Completed and returns the scenario result.
func (r *TestRunner) CollectScenarioErrors() (*core.ScenarioResult, error) {
	if r.result == nil || r.contexts.ScenarioContext() == nil {
		return nil, &scenario.LifecycleError{Op: "collect scenario errors", Reason: "no scenario is running"}
	}
	r.state = StateCompleted

	res := *r.result
	res.Steps = append([]core.StepResult(nil), r.result.Steps...)
	res.Status = r.contexts.TestStatus()
	if err := r.contexts.LastError(); err != nil {
		res.Error = err.Error()
	}
	res.Duration = time.Since(r.start)
	res.ComputeSummary()
	return &res, nil
}

// OnScenarioEnd completes the scenario if needed and releases its context.
func (r *TestRunner) OnScenarioEnd() (*core.ScenarioResult, error) {
	res, err := r.CollectScenarioErrors()
	if err != nil {
		return nil, err
	}
	r.result = nil
	if err := r.contexts.CleanupScenarioContext(); err != nil {
		return res, err
	}
	logger.Debug("scenario finished: %q (%s)", res.Title, res.Status)
	return res, nil
}

// RunScenario runs the feature background and the scenario steps inside an
// already started feature.
func (r *TestRunner) RunScenario(ctx context.Context, f *feature.Feature, sc feature.Scenario) (*core.ScenarioResult, error) {
	if err := r.OnScenarioStart(sc.Info, sc.Rule); err != nil {
		return nil, err
	}
	for _, steps := range [][]feature.Step{f.Background, sc.Steps} {
		for _, step := range steps {
			if _, err := r.ExecuteStep(ctx, step); err != nil {
				return nil, err
			}
		}
	}
	return r.OnScenarioEnd()
}

// RunFeature runs every scenario of f in order.
func (r *TestRunner) RunFeature(ctx context.Context, f *feature.Feature, culture language.Tag) ([]core.ScenarioResult, error) {
	if err := r.OnFeatureStart(f.Info, culture); err != nil {
		return nil, err
	}
	results := make([]core.ScenarioResult, 0, len(f.Scenarios))
	for _, sc := range f.Scenarios {
		res, err := r.RunScenario(ctx, f, sc)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, r.OnFeatureEnd()
}
