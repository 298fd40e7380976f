package scenario

import (
	"errors"
	"fmt"
	"reflect"

	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/logger"
)

// Scope constructs binding instances for one scenario.
type Scope interface {
	ResolveInstance(t reflect.Type) (interface{}, error)
	RegisterInstance(t reflect.Type, v interface{}) error
	Dispose() error
}

// ScopeFactory opens a fresh scope for a scenario.
type ScopeFactory func() Scope

// ContainerScopes opens child scopes of root.
func ContainerScopes(root *di.Container, provider di.DefaultDependencyProvider) ScopeFactory {
	return func() Scope {
		s := root.NewScope()
		if provider != nil {
			provider.RegisterTestRunnerDefaults(s)
		}
		return s
	}
}

// LifecycleError reports contexts initialized or cleaned up out of order.
type LifecycleError struct {
	Op     string
	Reason string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *LifecycleError) Unwrap() error { return core.ErrContextLifecycle }

var (
	featureContextType  = reflect.TypeOf((*FeatureContext)(nil))
	scenarioContextType = reflect.TypeOf((*Context)(nil))
	stepContextType     = reflect.TypeOf((*StepContext)(nil))
)

// Manager owns the feature, scenario and step contexts of one execution
// thread. At most one of each is active. A Manager is not safe for
// concurrent use; parallel runs use one Manager each.
type Manager struct {
	newScope ScopeFactory
	feature  *FeatureContext
	scenario *Context
	step     *StepContext
}

// NewManager creates a Manager. A nil factory gives each scenario a fresh
// standalone container.
func NewManager(newScope ScopeFactory) *Manager {
	if newScope == nil {
		newScope = func() Scope { return di.New() }
	}
	return &Manager{newScope: newScope}
}

// FeatureContext returns the active feature context, or nil.
func (m *Manager) FeatureContext() *FeatureContext { return m.feature }

// ScenarioContext returns the active scenario context, or nil.
func (m *Manager) ScenarioContext() *Context { return m.scenario }

// StepContext returns the active step context, or nil.
func (m *Manager) StepContext() *StepContext { return m.step }

// InitializeFeatureContext starts a feature. culture defaults to the
// feature language when undetermined.
func (m *Manager) InitializeFeatureContext(info feature.Info, culture language.Tag) (*FeatureContext, error) {
	if m.feature != nil {
		return nil, &LifecycleError{Op: "initialize feature context", Reason: fmt.Sprintf("feature %q is still active", m.feature.Info.Title)}
	}
	if info.Language == language.Und {
		info.Language = language.AmericanEnglish
	}
	if culture == language.Und {
		culture = info.Language
	}

	m.feature = &FeatureContext{Info: info, BindingCulture: culture}
	logger.Debug("feature context initialized: %q (%s, binding culture %s)", info.Title, info.Language, culture)
	return m.feature, nil
}

// InitializeScenarioContext starts a scenario inside the active feature with
// status OK, no last error and no binding instances.
func (m *Manager) InitializeScenarioContext(info feature.ScenarioInfo, rule *feature.RuleInfo) (*Context, error) {
	const op = "initialize scenario context"
	if m.feature == nil {
		return nil, &LifecycleError{Op: op, Reason: "no active feature context"}
	}
	if m.scenario != nil {
		return nil, &LifecycleError{Op: op, Reason: fmt.Sprintf("scenario %q is still active", m.scenario.Info.Title)}
	}

	ctx := &Context{
		Info:      info,
		Rule:      rule,
		Feature:   m.feature,
		Tags:      effectiveTags(m.feature, info, rule),
		status:    core.StatusOK,
		instances: make(map[reflect.Type]interface{}),
		scope:     m.newScope(),
	}
	if err := errors.Join(
		ctx.scope.RegisterInstance(featureContextType, m.feature),
		ctx.scope.RegisterInstance(scenarioContextType, ctx),
	); err != nil {
		_ = ctx.scope.Dispose()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.scenario = ctx
	logger.Debug("scenario context initialized: %q tags=%v", info.Title, ctx.Tags)
	return ctx, nil
}

// InitializeStepContext starts a step inside the active scenario.
func (m *Manager) InitializeStepContext(info StepInfo) (*StepContext, error) {
	const op = "initialize step context"
	if m.scenario == nil {
		return nil, &LifecycleError{Op: op, Reason: "no active scenario context"}
	}
	if m.step != nil {
		return nil, &LifecycleError{Op: op, Reason: fmt.Sprintf("step %q is still active", m.step.Info.Text)}
	}

	m.step = &StepContext{Info: info}
	m.scenario.lastStep = info.Text
	if err := m.scenario.scope.RegisterInstance(stepContextType, m.step); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m.step, nil
}

// CleanupStepContext ends the active step.
func (m *Manager) CleanupStepContext() error {
	if m.step == nil {
		return &LifecycleError{Op: "cleanup step context", Reason: "no active step context"}
	}
	m.step = nil
	return nil
}

// GetOrCreateBindingInstance returns this scenario's instance of t,
// resolving it from the scenario scope on first request.
func (m *Manager) GetOrCreateBindingInstance(t reflect.Type) (interface{}, error) {
	if m.scenario == nil {
		return nil, &LifecycleError{Op: "get binding instance", Reason: "no active scenario context"}
	}
	if v, ok := m.scenario.instances[t]; ok {
		return v, nil
	}
	v, err := m.scenario.scope.ResolveInstance(t)
	if err != nil {
		return nil, err
	}
	m.scenario.instances[t] = v
	return v, nil
}

// SetBindingInstance seeds this scenario's instance of t, so later lookups
// return v instead of resolving a new one.
func (m *Manager) SetBindingInstance(t reflect.Type, v interface{}) error {
	if m.scenario == nil {
		return &LifecycleError{Op: "set binding instance", Reason: "no active scenario context"}
	}
	if t == nil {
		return fmt.Errorf("%w: binding instance type is nil", core.ErrInvalidBinding)
	}
	if v == nil || !reflect.TypeOf(v).AssignableTo(t) {
		return fmt.Errorf("%w: %T cannot be used as a %v instance", core.ErrInvalidBinding, v, t)
	}
	m.scenario.instances[t] = v
	return nil
}

// SetTestStatus raises the scenario status to s when s is more severe. err
// replaces the recorded last error only in that case.
func (m *Manager) SetTestStatus(s core.TestStatus, err error) error {
	if m.scenario == nil {
		return &LifecycleError{Op: "set test status", Reason: "no active scenario context"}
	}
	if m.scenario.setStatus(s, err) {
		logger.Debug("scenario %q status -> %s", m.scenario.Info.Title, s)
	}
	return nil
}

// TestStatus returns the active scenario's status, or OK when none is active.
func (m *Manager) TestStatus() core.TestStatus {
	if m.scenario == nil {
		return core.StatusOK
	}
	return m.scenario.status
}

// LastError returns the active scenario's most severe error, or nil.
func (m *Manager) LastError() error {
	if m.scenario == nil {
		return nil
	}
	return m.scenario.lastErr
}

// CleanupScenarioContext ends the scenario, discarding its binding instances
// and disposing its scope. Dispose errors are returned after the context is
// released.
func (m *Manager) CleanupScenarioContext() error {
	if m.scenario == nil {
		return &LifecycleError{Op: "cleanup scenario context", Reason: "no active scenario context"}
	}
	ctx := m.scenario
	m.scenario = nil
	m.step = nil
	ctx.instances = nil

	logger.Debug("scenario context cleaned up: %q (%s)", ctx.Info.Title, ctx.status)
	if err := ctx.scope.Dispose(); err != nil {
		return fmt.Errorf("dispose scenario scope: %w", err)
	}
	return nil
}

// CleanupFeatureContext ends the feature.
func (m *Manager) CleanupFeatureContext() error {
	const op = "cleanup feature context"
	if m.feature == nil {
		return &LifecycleError{Op: op, Reason: "no active feature context"}
	}
	if m.scenario != nil {
		return &LifecycleError{Op: op, Reason: fmt.Sprintf("scenario %q is still active", m.scenario.Info.Title)}
	}
	logger.Debug("feature context cleaned up: %q", m.feature.Info.Title)
	m.feature = nil
	return nil
}
