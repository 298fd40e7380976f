// Package jsengine runs step definitions whose bodies are JavaScript. Each
// scenario gets its own Engine, so the world object and any globals a
// script defines never leak into another scenario.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/logger"
)

// signalKey marks objects thrown by pending() and fail().
const signalKey = "__stepbindSignal"

// Options configures new engines.
type Options struct {
	Env        map[string]string // Exposed to scripts as env
	HTTPClient *http.Client      // Used by the http global (default 30s timeout)
}

// Engine wraps a goja runtime with the globals step scripts use.
type Engine struct {
	runtime *goja.Runtime
	world   *goja.Object
	client  *http.Client
	funcs   map[*Function]goja.Callable
	closed  bool
	mu      sync.Mutex
}

var errClosed = core.ErrBindingInvocation.WithMessage("script engine is closed")

// New creates an engine.
func New(opts Options) *Engine {
	e := &Engine{}
	e.setup(opts)
	return e
}

// Init prepares an engine constructed by a scenario scope, using the
// *Options registered on the container when there is one.
func (e *Engine) Init(r di.Resolver) error {
	opts, err := di.Resolve[*Options](r)
	if err != nil {
		return err
	}
	if opts == nil {
		opts = &Options{}
	}
	e.setup(*opts)
	return nil
}

func (e *Engine) setup(opts Options) {
	e.runtime = goja.New()
	e.runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	e.funcs = make(map[*Function]goja.Callable)
	e.client = opts.HTTPClient
	if e.client == nil {
		e.client = &http.Client{Timeout: 30 * time.Second}
	}

	e.world = e.runtime.NewObject()
	env := make(map[string]interface{}, len(opts.Env))
	for k, v := range opts.Env {
		env[k] = v
	}

	e.runtime.Set("world", e.world)
	e.runtime.Set("env", env)
	e.runtime.Set("console", e.console())
	e.runtime.Set("json", e.jsonFunc())
	e.runtime.Set("pending", e.signal("pending"))
	e.runtime.Set("fail", e.signal("fail"))
	e.runtime.Set("http", e.httpModule())
}

func (e *Engine) console() *goja.Object {
	write := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			msg := strings.Join(parts, " ")
			switch level {
			case "error":
				logger.Error("[script] %s", msg)
			case "warn":
				logger.Warn("[script] %s", msg)
			case "debug":
				logger.Debug("[script] %s", msg)
			default:
				logger.Info("[script] %s", msg)
			}
			return goja.Undefined()
		}
	}

	obj := e.runtime.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = obj.Set(level, write(level))
	}
	return obj
}

// jsonFunc returns json(text), which parses a JSON string.
func (e *Engine) jsonFunc() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}
		parse, _ := goja.AssertFunction(e.runtime.Get("JSON").ToObject(e.runtime).Get("parse"))
		v, err := parse(goja.Undefined(), call.Arguments[0])
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return v
	}
}

// signal returns pending(reason) or fail(message), which throw a marked
// object the engine maps back onto step outcomes.
func (e *Engine) signal(kind string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		obj := e.runtime.NewObject()
		_ = obj.Set(signalKey, kind)
		msg := ""
		if len(call.Arguments) > 0 {
			msg = call.Arguments[0].String()
		}
		_ = obj.Set("message", msg)
		panic(obj)
	}
}

// Function is a compiled step script. It can run on any engine.
type Function struct {
	Name    string
	program *goja.Program
}

// Compile compiles source, which must evaluate to a function.
func Compile(name, source string) (*Function, error) {
	prog, err := goja.Compile(name, "("+strings.TrimSpace(source)+")", false)
	if err != nil {
		return nil, err
	}
	fn := &Function{Name: name, program: prog}

	// Evaluating a function expression has no side effects.
	v, err := goja.New().RunProgram(prog)
	if err != nil {
		return nil, err
	}
	if _, ok := goja.AssertFunction(v); !ok {
		return nil, fmt.Errorf("script of %s is not a function", name)
	}
	return fn, nil
}

func (e *Engine) function(fn *Function) (goja.Callable, error) {
	if c, ok := e.funcs[fn]; ok {
		return c, nil
	}
	v, err := e.runtime.RunProgram(fn.program)
	if err != nil {
		return nil, err
	}
	c, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("script of %s is not a function", fn.Name)
	}
	e.funcs[fn] = c
	return c, nil
}

// Call runs fn with world as this. Cancelling ctx interrupts the script.
func (e *Engine) Call(ctx context.Context, fn *Function, args []interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.runtime == nil {
		return errClosed
	}

	callable, err := e.function(fn)
	if err != nil {
		return core.ErrBindingInvocation.WithMessage(fmt.Sprintf("%s: cannot load script", fn.Name)).WithCause(err)
	}

	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i], err = e.toValue(a)
		if err != nil {
			return core.ErrBindingInvocation.WithMessage(fmt.Sprintf("%s argument %d", fn.Name, i+1)).WithCause(err)
		}
	}

	e.runtime.ClearInterrupt()
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { e.runtime.Interrupt(ctx.Err()) })
		defer stop()
	}

	_, err = callable(e.world, values...)
	return e.outcome(fn, err)
}

// outcome maps a script error onto the pending signal or an invocation failure.
func (e *Engine) outcome(fn *Function, err error) error {
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		msg := fmt.Sprintf("%s interrupted", fn.Name)
		if cause, ok := interrupted.Value().(error); ok {
			return core.ErrBindingInvocation.WithMessage(msg).WithCause(cause)
		}
		return core.ErrBindingInvocation.WithMessage(fmt.Sprintf("%s: %v", msg, interrupted.Value()))
	}

	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return core.ErrBindingInvocation.WithMessage(fn.Name).WithCause(err)
	}
	if obj, ok := ex.Value().(*goja.Object); ok {
		if kind := obj.Get(signalKey); kind != nil {
			msg := obj.Get("message").String()
			switch kind.String() {
			case "pending":
				return core.Pending(msg)
			case "fail":
				return core.ErrBindingInvocation.WithMessage(msg)
			}
		}
	}
	return core.ErrBindingInvocation.WithMessage(fmt.Sprintf("%s threw: %s", fn.Name, ex.Value().String())).
		WithDetails(map[string]interface{}{"stack": ex.String()})
}

// toValue turns converted step arguments into natural JavaScript values.
func (e *Engine) toValue(a interface{}) (goja.Value, error) {
	switch v := a.(type) {
	case *feature.Table:
		return e.tableValue(v), nil
	case feature.DocString:
		return e.runtime.ToValue(v.Content), nil
	case time.Duration:
		return e.runtime.ToValue(float64(v) / float64(time.Millisecond)), nil
	case time.Time:
		date, err := e.runtime.New(e.runtime.Get("Date"), e.runtime.ToValue(v.UnixMilli()))
		if err != nil {
			return nil, err
		}
		return date, nil
	}
	return e.runtime.ToValue(a), nil
}

// tableValue exposes a table as {header, rows, hashes}.
func (e *Engine) tableValue(t *feature.Table) goja.Value {
	array := func(in []string) *goja.Object {
		vals := make([]interface{}, len(in))
		for i, s := range in {
			vals[i] = s
		}
		return e.runtime.NewArray(vals...)
	}

	rows := make([]interface{}, len(t.Rows))
	hashes := make([]interface{}, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = array(r)
		hash := e.runtime.NewObject()
		for k, v := range t.Row(i) {
			_ = hash.Set(k, v)
		}
		hashes[i] = hash
	}

	obj := e.runtime.NewObject()
	_ = obj.Set("header", array(t.Header))
	_ = obj.Set("rows", e.runtime.NewArray(rows...))
	_ = obj.Set("hashes", e.runtime.NewArray(hashes...))
	return obj
}

// Eval evaluates an expression in the scenario runtime.
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.runtime == nil {
		return nil, errClosed
	}

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result.Export(), nil
}

// World returns a copy of the world object.
func (e *Engine) World() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]interface{})
	if e.world == nil {
		return out
	}
	for _, k := range e.world.Keys() {
		out[k] = e.world.Get(k).Export()
	}
	return out
}

// Set stores a value on the world object.
func (e *Engine) Set(key string, value interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.world == nil {
		return errClosed
	}
	return e.world.Set(key, value)
}

// Close releases the runtime. It is called when the scenario scope is
// disposed; closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.runtime != nil {
		e.runtime.Interrupt("engine closed")
	}
	e.funcs = nil
	return nil
}
