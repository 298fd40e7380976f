package jsengine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/feature"
)

func mustCompile(t *testing.T, source string) *Function {
	t.Helper()
	fn, err := Compile("test", source)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return fn
}

func TestEval(t *testing.T) {
	engine := New(Options{Env: map[string]string{"USER": "ada"}})
	defer engine.Close()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'hello' + ' ' + 'world'", "hello world"},
		{"null coalescing", "null ?? 'default'", "default"},
		{"env", "env.USER", "ada"},
		{"json helper", "json('{\"a\": 2}').a", int64(2)},
		{"world starts empty", "Object.keys(world).length", int64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr bool
	}{
		{"function expression", "function (n) { world.n = n }", false},
		{"arrow function", "(a, b) => a + b", false},
		{"surrounding whitespace", "\n  function () {}\n", false},
		{"syntax error", "function ( {", true},
		{"not a function", "42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("step", tt.source)
			if (err != nil) != tt.wantErr {
				t.Errorf("Compile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCallUpdatesWorld(t *testing.T) {
	engine := New(Options{})
	defer engine.Close()

	have := mustCompile(t, "function (n) { world.cukes = n; this.calls = (this.calls || 0) + 1 }")
	for i := 0; i < 2; i++ {
		if err := engine.Call(context.Background(), have, []interface{}{int64(5)}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	world := engine.World()
	if world["cukes"] != int64(5) {
		t.Errorf("expected world.cukes = 5, got %v", world["cukes"])
	}
	if world["calls"] != int64(2) {
		t.Errorf("expected this to be the world object, calls = %v", world["calls"])
	}
}

func TestCallArguments(t *testing.T) {
	engine := New(Options{})
	defer engine.Close()

	table := feature.NewTable([]string{"name", "age"}, []string{"Ada", "36"}, []string{"Alan", "41"})
	fn := mustCompile(t, `function (t, doc, d, when) {
		world.first = t.hashes[0].name
		world.columns = t.header.length
		world.rows = t.rows.length
		world.doc = doc
		world.ms = d
		world.year = when.getUTCFullYear()
	}`)

	args := []interface{}{
		table,
		feature.DocString{Content: "hello"},
		1500 * time.Millisecond,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := engine.Call(context.Background(), fn, args); err != nil {
		t.Fatalf("call: %v", err)
	}

	world := engine.World()
	expected := map[string]interface{}{
		"first":   "Ada",
		"columns": int64(2),
		"rows":    int64(2),
		"doc":     "hello",
		"ms":      int64(1500),
		"year":    int64(2024),
	}
	for k, want := range expected {
		if world[k] != want {
			t.Errorf("world.%s = %v (%T), want %v (%T)", k, world[k], world[k], want, want)
		}
	}
}

func TestCallOutcomes(t *testing.T) {
	engine := New(Options{})
	defer engine.Close()

	tests := []struct {
		name        string
		script      string
		wantPending bool
		wantMessage string
	}{
		{"ok", "function () {}", false, ""},
		{"pending", "function () { pending('later') }", true, "later"},
		{"fail", "function () { fail('boom') }", false, "boom"},
		{"throw", "function () { throw new Error('bad state') }", false, "bad state"},
		{"reference error", "function () { missing.call() }", false, "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Call(context.Background(), mustCompile(t, tt.script), nil)
			if tt.wantMessage == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, core.ErrPendingStep); got != tt.wantPending {
				t.Errorf("pending = %v, want %v (%v)", got, tt.wantPending, err)
			}
			if !tt.wantPending && !errors.Is(err, core.ErrBindingInvocation) {
				t.Errorf("expected an invocation failure, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("expected %q in %q", tt.wantMessage, err.Error())
			}
		})
	}
}

func TestCallCancelled(t *testing.T) {
	engine := New(Options{})
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := engine.Call(ctx, mustCompile(t, "function () { for (;;) {} }"), nil)
	if !errors.Is(err, core.ErrBindingInvocation) {
		t.Fatalf("expected invocation failure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline as cause, got %v", err)
	}

	// The engine stays usable.
	if err := engine.Call(context.Background(), mustCompile(t, "function () {}"), nil); err != nil {
		t.Errorf("call after interrupt: %v", err)
	}
}

func TestClose(t *testing.T) {
	engine := New(Options{})
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := engine.Eval("1"); !errors.Is(err, core.ErrBindingInvocation) {
		t.Errorf("expected closed engine error, got %v", err)
	}
}

func TestEnginesAreIsolated(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	defer a.Close()
	defer b.Close()

	set := mustCompile(t, "function () { world.owner = 'a'; leaked = true }")
	if err := a.Call(context.Background(), set, nil); err != nil {
		t.Fatal(err)
	}

	if got := b.World()["owner"]; got != nil {
		t.Errorf("world leaked across engines: %v", got)
	}
	if v, err := b.Eval("typeof leaked"); err != nil || v != "undefined" {
		t.Errorf("global leaked across engines: %v %v", v, err)
	}
}

func TestInitFromContainer(t *testing.T) {
	root := di.New()
	Provider(Options{Env: map[string]string{"STAGE": "ci"}}).RegisterDefaults(root)
	scope := root.NewScope()

	e, err := di.Resolve[*Engine](scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v, err := e.Eval("env.STAGE")
	if err != nil || v != "ci" {
		t.Errorf("env.STAGE = %v, %v", v, err)
	}

	if err := scope.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if _, err := e.Eval("1"); err == nil {
		t.Error("expected the engine to be closed with its scope")
	}
}

func TestHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cukes":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"count": 5, "method": "` + r.Method + `"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not found"))
		}
	}))
	defer server.Close()

	engine := New(Options{Env: map[string]string{"BASE": server.URL}})
	defer engine.Close()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"get json", "http.get(env.BASE + '/cukes').json.count", int64(5)},
		{"post", "http.post(env.BASE + '/cukes', {body: {n: 1}}).json.method", "POST"},
		{"request", "http.request('put', env.BASE + '/cukes').json.method", "PUT"},
		{"status", "http.get(env.BASE + '/missing').status", int64(404)},
		{"not ok", "http.get(env.BASE + '/missing').ok", false},
		{"non json body", "http.get(env.BASE + '/missing').json", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}
