package jsengine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/logger"
)

// ParamTypes maps the parameter names usable in binding files to Go types.
var ParamTypes = map[string]reflect.Type{
	"int":       reflect.TypeOf(int64(0)),
	"float":     reflect.TypeOf(float64(0)),
	"string":    reflect.TypeOf(""),
	"word":      reflect.TypeOf(""),
	"bool":      reflect.TypeOf(false),
	"table":     reflect.TypeOf((*feature.Table)(nil)),
	"docstring": reflect.TypeOf(feature.DocString{}),
	"duration":  reflect.TypeOf(time.Duration(0)),
	"time":      reflect.TypeOf(time.Time{}),
}

var engineType = reflect.TypeOf((*Engine)(nil))

// StepScript is one step definition read from a binding file.
type StepScript struct {
	Bucket  binding.Bucket
	Pattern string
	Kind    binding.PatternKind
	Name    string
	Params  []reflect.Type
	Scopes  []binding.Scope
	Fn      *Function
	Line    int
}

// BindingFile is a parsed script binding file.
type BindingFile struct {
	Path  string
	Steps []StepScript
}

type rawFile struct {
	Steps []yaml.Node `yaml:"steps"`
}

type rawStep struct {
	Given  string          `yaml:"given"`
	When   string          `yaml:"when"`
	Then   string          `yaml:"then"`
	Step   string          `yaml:"step"`
	Name   string          `yaml:"name"`
	Kind   string          `yaml:"kind"`
	Params []string        `yaml:"params"`
	Script string          `yaml:"script"`
	Scope  *binding.Scope  `yaml:"scope"`
	Scopes []binding.Scope `yaml:"scopes"`
}

// ParseBindings parses a YAML script binding file:
//
//	steps:
//	  - when: I have {int} cukes
//	    params: [int]
//	    script: |
//	      function (n) { world.cukes = n }
func ParseBindings(data []byte, path string) (*BindingFile, error) {
	var raw rawFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, &feature.ParseError{Path: path, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if len(raw.Steps) == 0 {
		return nil, &feature.ParseError{Path: path, Line: 1, Message: "no steps defined"}
	}

	file := &BindingFile{Path: path}
	for i := range raw.Steps {
		s, err := parseStep(&raw.Steps[i], path, i)
		if err != nil {
			return nil, err
		}
		file.Steps = append(file.Steps, s)
	}
	return file, nil
}

func parseStep(node *yaml.Node, path string, index int) (StepScript, error) {
	fail := func(format string, args ...interface{}) (StepScript, error) {
		return StepScript{}, &feature.ParseError{Path: path, Line: node.Line, Message: fmt.Sprintf(format, args...)}
	}

	var raw rawStep
	if err := node.Decode(&raw); err != nil {
		return fail("invalid step definition: %v", err)
	}

	s := StepScript{Name: raw.Name, Line: node.Line}
	set := 0
	for _, kv := range []struct {
		bucket  binding.Bucket
		pattern string
	}{
		{binding.Given, raw.Given},
		{binding.When, raw.When},
		{binding.Then, raw.Then},
		{binding.Any, raw.Step},
	} {
		if kv.pattern != "" {
			s.Bucket, s.Pattern = kv.bucket, kv.pattern
			set++
		}
	}
	if set != 1 {
		return fail("step definition needs exactly one of given, when, then or step")
	}

	switch strings.ToLower(raw.Kind) {
	case "", "auto":
		s.Kind = binding.AutoDetect
	case "regex":
		s.Kind = binding.Regex
	case "expression":
		s.Kind = binding.Expression
	default:
		return fail("unknown pattern kind %q", raw.Kind)
	}

	for _, p := range raw.Params {
		t, ok := ParamTypes[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return fail("unknown parameter type %q", p)
		}
		s.Params = append(s.Params, t)
	}

	if strings.TrimSpace(raw.Script) == "" {
		return fail("step definition %q has no script", s.Pattern)
	}
	if s.Name == "" {
		s.Name = fmt.Sprintf("%s#%d", filepath.Base(path), index+1)
	}
	fn, err := Compile(s.Name, raw.Script)
	if err != nil {
		return fail("script of %q: %v", s.Pattern, err)
	}
	s.Fn = fn

	if raw.Scope != nil {
		s.Scopes = append(s.Scopes, *raw.Scope)
	}
	s.Scopes = append(s.Scopes, raw.Scopes...)
	return s, nil
}

// LoadBindingFile reads and parses one binding file.
func LoadBindingFile(path string) (*BindingFile, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is a user-provided binding file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseBindings(data, path)
}

// LoadBindings loads every file matching the glob patterns, in sorted order.
func LoadBindings(patterns []string) ([]*BindingFile, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid binding pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)

	files := make([]*BindingFile, 0, len(paths))
	for _, p := range paths {
		f, err := LoadBindingFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Register adds every step of files to reg.
func Register(reg *binding.Registry, files ...*BindingFile) error {
	for _, f := range files {
		for _, s := range f.Steps {
			p, err := binding.NewPattern(s.Pattern, s.Kind)
			if err != nil {
				return fmt.Errorf("%s:%d: %w", f.Path, s.Line, core.ErrInvalidBinding.WithCause(err))
			}
			def := &binding.StepDefinition{
				Bucket:  s.Bucket,
				Pattern: p,
				Method:  &scriptMethod{name: s.Name, params: s.Params, fn: s.Fn},
				Scopes:  s.Scopes,
			}
			if err := reg.Register(def); err != nil {
				return fmt.Errorf("%s:%d: %w", f.Path, s.Line, err)
			}
			logger.Debug("registered script step definition %s", def)
		}
	}
	return nil
}

// scriptMethod invokes a step script on the scenario's Engine.
type scriptMethod struct {
	name   string
	params []reflect.Type
	fn     *Function
}

func (m *scriptMethod) Name() string               { return m.name }
func (m *scriptMethod) BindingType() reflect.Type  { return engineType }
func (m *scriptMethod) ParamTypes() []reflect.Type { return append([]reflect.Type(nil), m.params...) }

func (m *scriptMethod) Invoke(ctx context.Context, instance interface{}, args []interface{}) error {
	e, ok := instance.(*Engine)
	if !ok || e == nil {
		return core.ErrBindingInvocation.WithMessage(fmt.Sprintf("%s needs a script engine, got %T", m.name, instance))
	}
	if len(args) != len(m.params) {
		return core.ErrBindingInvocation.WithMessage(
			fmt.Sprintf("%s expects %d arguments, got %d", m.name, len(m.params), len(args)))
	}
	return e.Call(ctx, m.fn, args)
}

// Provider registers opts on the root container; every scenario scope then
// builds its own Engine from them on first use.
func Provider(opts Options) di.DefaultDependencyProvider {
	return di.ProviderFuncs{
		Defaults: func(c *di.Container) {
			o := opts
			if err := di.Register(c, &o); err != nil {
				logger.Warn("script engine options not registered: %v", err)
			}
		},
	}
}
