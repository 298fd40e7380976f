package binding

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/devicelab-dev/stepbind/pkg/core"
)

// Method is the callable behind a step definition.
type Method interface {
	// Name identifies the method in traces, e.g. "CukeSteps.HaveCukes".
	Name() string
	// BindingType is the type of the per-scenario instance the method runs
	// on, or nil when it needs none.
	BindingType() reflect.Type
	// ParamTypes lists the step argument types in order.
	ParamTypes() []reflect.Type
	// Invoke calls the method. instance is nil when BindingType is nil.
	Invoke(ctx context.Context, instance interface{}, args []interface{}) error
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// funcMethod invokes a Go function through reflection. When receiver is set
// the first function parameter takes the binding instance.
type funcMethod struct {
	name     string
	fn       reflect.Value
	receiver reflect.Type
	takesCtx bool
	params   []reflect.Type
}

// NewFuncMethod wraps a plain function. An optional leading context.Context
// parameter receives the step context; an optional error result reports failure.
func NewFuncMethod(name string, fn interface{}) (Method, error) {
	return newFuncMethod(name, fn, false)
}

// NewInstanceMethod wraps a method expression such as (*Steps).HaveCukes.
// The first parameter is the binding type resolved per scenario.
func NewInstanceMethod(name string, fn interface{}) (Method, error) {
	return newFuncMethod(name, fn, true)
}

func newFuncMethod(name string, fn interface{}, withReceiver bool) (*funcMethod, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, core.ErrInvalidBinding.WithMessage(fmt.Sprintf("step binding must be a function, got %T", fn))
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, core.ErrInvalidBinding.WithMessage("variadic step bindings are not supported")
	}

	m := &funcMethod{name: name, fn: v}
	if m.name == "" {
		m.name = funcName(v)
	}

	in := 0
	if withReceiver {
		if t.NumIn() == 0 {
			return nil, core.ErrInvalidBinding.WithMessage(fmt.Sprintf("%s has no receiver parameter", m.name))
		}
		m.receiver = t.In(0)
		in = 1
	}
	if in < t.NumIn() && t.In(in) == contextType {
		m.takesCtx = true
		in++
	}
	for ; in < t.NumIn(); in++ {
		if t.In(in) == contextType {
			return nil, core.ErrInvalidBinding.WithMessage(fmt.Sprintf("%s: context.Context must come first", m.name))
		}
		m.params = append(m.params, t.In(in))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) != errorType {
			return nil, core.ErrInvalidBinding.WithMessage(fmt.Sprintf("%s must return nothing or error", m.name))
		}
	default:
		return nil, core.ErrInvalidBinding.WithMessage(fmt.Sprintf("%s must return nothing or error", m.name))
	}
	return m, nil
}

func (m *funcMethod) Name() string              { return m.name }
func (m *funcMethod) BindingType() reflect.Type { return m.receiver }
func (m *funcMethod) ParamTypes() []reflect.Type {
	return append([]reflect.Type(nil), m.params...)
}

func (m *funcMethod) Invoke(ctx context.Context, instance interface{}, args []interface{}) (err error) {
	if len(args) != len(m.params) {
		return core.ErrBindingInvocation.WithMessage(
			fmt.Sprintf("%s expects %d arguments, got %d", m.name, len(m.params), len(args)))
	}

	in := make([]reflect.Value, 0, len(args)+2)
	if m.receiver != nil {
		if instance == nil || !reflect.TypeOf(instance).AssignableTo(m.receiver) {
			return core.ErrBindingInvocation.WithMessage(
				fmt.Sprintf("%s needs a %s instance, got %T", m.name, m.receiver, instance))
		}
		in = append(in, reflect.ValueOf(instance))
	}
	if m.takesCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, a := range args {
		if a == nil {
			in = append(in, reflect.Zero(m.params[i]))
			continue
		}
		v := reflect.ValueOf(a)
		if !v.Type().AssignableTo(m.params[i]) {
			return core.ErrBindingInvocation.WithMessage(
				fmt.Sprintf("%s argument %d: %s is not assignable to %s", m.name, i+1, v.Type(), m.params[i]))
		}
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = core.ErrBindingInvocation.WithMessage(fmt.Sprintf("%s panicked", m.name)).WithCause(e)
				return
			}
			err = core.ErrBindingInvocation.WithMessage(fmt.Sprintf("%s panicked: %v", m.name, r))
		}
	}()

	out := m.fn.Call(in)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

// funcName turns "example.com/steps.(*CukeSteps).HaveCukes-fm" into "CukeSteps.HaveCukes".
func funcName(v reflect.Value) string {
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return v.Type().String()
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	name = strings.NewReplacer("(*", "", ")", "", "(", "").Replace(name)
	return name
}

// IsPending reports whether err is the pending signal of a binding.
func IsPending(err error) bool {
	return errors.Is(err, core.ErrPendingStep)
}
