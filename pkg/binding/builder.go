package binding

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/logger"
)

// Option adjusts a step definition built by a Builder.
type Option func(*options)

type options struct {
	kind   PatternKind
	name   string
	scopes []Scope
}

// WithScope restricts the definition. Repeated scopes are OR-ed.
func WithScope(s Scope) Option {
	return func(o *options) { o.scopes = append(o.scopes, s) }
}

// WithTags restricts the definition to scenarios carrying all tags.
func WithTags(tags ...string) Option {
	return WithScope(Scope{Tags: tags})
}

// AsRegex forces the pattern to be read as a regular expression.
func AsRegex() Option {
	return func(o *options) { o.kind = Regex }
}

// AsExpression forces the pattern to be read as a placeholder expression.
func AsExpression() Option {
	return func(o *options) { o.kind = Expression }
}

// Named overrides the method name shown in traces.
func Named(name string) Option {
	return func(o *options) { o.name = name }
}

// Builder collects step definitions from Go functions into a registry.
// Errors are accumulated and reported by Err.
type Builder struct {
	reg  *Registry
	errs []error
}

// NewBuilder creates a builder registering into reg.
func NewBuilder(reg *Registry) *Builder {
	return &Builder{reg: reg}
}

// Given binds a plain function to Given steps.
func (b *Builder) Given(pattern string, fn interface{}, opts ...Option) *Builder {
	return b.add(Given, pattern, fn, false, opts)
}

// When binds a plain function to When steps.
func (b *Builder) When(pattern string, fn interface{}, opts ...Option) *Builder {
	return b.add(When, pattern, fn, false, opts)
}

// Then binds a plain function to Then steps.
func (b *Builder) Then(pattern string, fn interface{}, opts ...Option) *Builder {
	return b.add(Then, pattern, fn, false, opts)
}

// Step binds a plain function to steps of any kind.
func (b *Builder) Step(pattern string, fn interface{}, opts ...Option) *Builder {
	return b.add(Any, pattern, fn, false, opts)
}

// Err returns every registration error joined, or nil.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

func (b *Builder) add(bucket Bucket, pattern string, fn interface{}, instance bool, opts []Option) *Builder {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	p, err := NewPattern(pattern, o.kind)
	if err != nil {
		b.errs = append(b.errs, core.ErrInvalidBinding.WithCause(err))
		return b
	}

	var m Method
	if instance {
		m, err = NewInstanceMethod(o.name, fn)
	} else {
		m, err = NewFuncMethod(o.name, fn)
	}
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}

	def := &StepDefinition{Bucket: bucket, Pattern: p, Method: m, Scopes: o.scopes}
	if err := b.reg.Register(def); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	logger.Debug("registered step definition %s", def)
	return b
}

// TypeBuilder binds method expressions of *T, e.g. (*CukeSteps).HaveCukes.
// One *T is created per scenario and shared by all its steps.
type TypeBuilder[T any] struct {
	b *Builder
}

// For returns a TypeBuilder for methods of *T.
func For[T any](b *Builder) *TypeBuilder[T] {
	return &TypeBuilder[T]{b: b}
}

// Given binds a method expression to Given steps.
func (t *TypeBuilder[T]) Given(pattern string, fn interface{}, opts ...Option) *TypeBuilder[T] {
	t.add(Given, pattern, fn, opts)
	return t
}

// When binds a method expression to When steps.
func (t *TypeBuilder[T]) When(pattern string, fn interface{}, opts ...Option) *TypeBuilder[T] {
	t.add(When, pattern, fn, opts)
	return t
}

// Then binds a method expression to Then steps.
func (t *TypeBuilder[T]) Then(pattern string, fn interface{}, opts ...Option) *TypeBuilder[T] {
	t.add(Then, pattern, fn, opts)
	return t
}

// Step binds a method expression to steps of any kind.
func (t *TypeBuilder[T]) Step(pattern string, fn interface{}, opts ...Option) *TypeBuilder[T] {
	t.add(Any, pattern, fn, opts)
	return t
}

func (t *TypeBuilder[T]) add(bucket Bucket, pattern string, fn interface{}, opts []Option) {
	want := reflect.TypeOf((*T)(nil))
	ft := reflect.TypeOf(fn)
	if ft == nil || ft.Kind() != reflect.Func || ft.NumIn() == 0 || ft.In(0) != want {
		t.b.errs = append(t.b.errs, core.ErrInvalidBinding.WithMessage(
			fmt.Sprintf("binding for %q must be a method expression of %s", pattern, want)))
		return
	}
	t.b.add(bucket, pattern, fn, true, opts)
}
