// Package scenario manages the feature, scenario and step contexts visible
// to bindings while a scenario runs.
package scenario

import (
	"reflect"
	"sort"
	"sync"

	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/feature"
)

// userData is string-keyed storage bindings use to share state.
type userData struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

// Set stores v under key.
func (d *userData) Set(key string, v interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.m == nil {
		d.m = make(map[string]interface{})
	}
	d.m[key] = v
}

// Get returns the value stored under key.
func (d *userData) Get(key string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.m[key]
	return v, ok
}

// Delete removes key.
func (d *userData) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
}

// Keys returns the stored keys in sorted order.
func (d *userData) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.m))
	for k := range d.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FeatureContext is the state of the running feature.
type FeatureContext struct {
	userData
	Info feature.Info
	// BindingCulture drives argument conversion; it defaults to the feature language.
	BindingCulture language.Tag
}

// Context is the state of the running scenario.
type Context struct {
	userData
	Info    feature.ScenarioInfo
	Rule    *feature.RuleInfo
	Feature *FeatureContext
	// Tags are the scenario's own tags plus those inherited from its rule and feature.
	Tags []string

	status    core.TestStatus
	lastErr   error
	lastStep  string
	instances map[reflect.Type]interface{}
	scope     Scope
}

// TestStatus returns the aggregate status so far.
func (c *Context) TestStatus() core.TestStatus { return c.status }

// LastError returns the error of the most severe outcome so far.
func (c *Context) LastError() error { return c.lastErr }

// LastStep returns the text of the most recently started step.
func (c *Context) LastStep() string { return c.lastStep }

// ScopeContext describes the scenario for binding scope filters.
func (c *Context) ScopeContext() binding.ScopeContext {
	return binding.ScopeContext{
		FeatureTitle:  c.Feature.Info.Title,
		ScenarioTitle: c.Info.Title,
		Tags:          c.Tags,
	}
}

// setStatus applies s if it is more severe than the current status. It
// reports whether the status changed.
func (c *Context) setStatus(s core.TestStatus, err error) bool {
	if s <= c.status {
		return false
	}
	c.status = s
	c.lastErr = err
	return true
}

// StepInfo describes the step being executed.
type StepInfo struct {
	Keyword  feature.Keyword
	Bucket   binding.Bucket
	Text     string
	Argument interface{}
	Index    int
}

// StepContext is the state of the running step.
type StepContext struct {
	Info StepInfo
}

func effectiveTags(f *FeatureContext, info feature.ScenarioInfo, rule *feature.RuleInfo) []string {
	sc := feature.Scenario{Info: info, Rule: rule}
	return sc.EffectiveTags(&feature.Feature{Info: f.Info})
}
