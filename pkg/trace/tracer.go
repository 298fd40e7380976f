// Package trace receives the ordered stream of step events produced while a
// scenario runs.
package trace

import (
	"sync"
	"time"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/scenario"
)

// Tracer observes step execution. Every step gets exactly one terminal
// event: done, skipped, pending, no-match, binding error or error.
type Tracer interface {
	TraceStep(step scenario.StepInfo)
	TraceWarning(text string)
	TraceStepDone(match binding.Match, args []interface{}, d time.Duration)
	TraceStepSkipped()
	TraceStepPending(match binding.Match, args []interface{})
	TraceBindingError(err error)
	TraceError(err error, d time.Duration)
	TraceNoMatchingStepDefinition(step scenario.StepInfo, missing Missing)
	TraceDuration(d time.Duration, subject string)
}

// Missing carries the diagnostics for an undefined step.
type Missing struct {
	Language   TargetLanguage
	Style      SkeletonStyle
	OutOfScope []binding.Match
	NearMisses []*binding.StepDefinition
}

// Kind names an event.
type Kind string

const (
	KindStep         Kind = "step"
	KindWarning      Kind = "warning"
	KindDone         Kind = "done"
	KindSkipped      Kind = "skipped"
	KindPending      Kind = "pending"
	KindBindingError Kind = "binding-error"
	KindError        Kind = "error"
	KindNoMatch      Kind = "no-match"
	KindDuration     Kind = "duration"
)

// Terminal reports whether the kind ends a step.
func (k Kind) Terminal() bool {
	switch k {
	case KindDone, KindSkipped, KindPending, KindBindingError, KindError, KindNoMatch:
		return true
	}
	return false
}

// Event is one recorded trace call.
type Event struct {
	Kind      Kind
	Step      scenario.StepInfo
	Match     binding.Match
	Arguments []interface{}
	Duration  time.Duration
	Err       error
	Missing   Missing
	Text      string
}

// Recorder keeps every event in order. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Terminal returns only the terminal events, one per step.
func (r *Recorder) Terminal() []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Replay sends the recorded events to another tracer in order.
func (r *Recorder) Replay(to Tracer) {
	for _, e := range r.Events() {
		switch e.Kind {
		case KindStep:
			to.TraceStep(e.Step)
		case KindWarning:
			to.TraceWarning(e.Text)
		case KindDone:
			to.TraceStepDone(e.Match, e.Arguments, e.Duration)
		case KindSkipped:
			to.TraceStepSkipped()
		case KindPending:
			to.TraceStepPending(e.Match, e.Arguments)
		case KindBindingError:
			to.TraceBindingError(e.Err)
		case KindError:
			to.TraceError(e.Err, e.Duration)
		case KindNoMatch:
			to.TraceNoMatchingStepDefinition(e.Step, e.Missing)
		case KindDuration:
			to.TraceDuration(e.Duration, e.Text)
		}
	}
}

func (r *Recorder) TraceStep(step scenario.StepInfo) {
	r.add(Event{Kind: KindStep, Step: step})
}

func (r *Recorder) TraceWarning(text string) {
	r.add(Event{Kind: KindWarning, Text: text})
}

func (r *Recorder) TraceStepDone(match binding.Match, args []interface{}, d time.Duration) {
	r.add(Event{Kind: KindDone, Match: match, Arguments: args, Duration: d})
}

func (r *Recorder) TraceStepSkipped() {
	r.add(Event{Kind: KindSkipped})
}

func (r *Recorder) TraceStepPending(match binding.Match, args []interface{}) {
	r.add(Event{Kind: KindPending, Match: match, Arguments: args})
}

func (r *Recorder) TraceBindingError(err error) {
	r.add(Event{Kind: KindBindingError, Err: err})
}

func (r *Recorder) TraceError(err error, d time.Duration) {
	r.add(Event{Kind: KindError, Err: err, Duration: d})
}

func (r *Recorder) TraceNoMatchingStepDefinition(step scenario.StepInfo, missing Missing) {
	r.add(Event{Kind: KindNoMatch, Step: step, Missing: missing})
}

func (r *Recorder) TraceDuration(d time.Duration, subject string) {
	r.add(Event{Kind: KindDuration, Duration: d, Text: subject})
}

// Multi fans every event out to several tracers in order.
type Multi []Tracer

func (m Multi) TraceStep(step scenario.StepInfo) {
	for _, t := range m {
		t.TraceStep(step)
	}
}

func (m Multi) TraceWarning(text string) {
	for _, t := range m {
		t.TraceWarning(text)
	}
}

func (m Multi) TraceStepDone(match binding.Match, args []interface{}, d time.Duration) {
	for _, t := range m {
		t.TraceStepDone(match, args, d)
	}
}

func (m Multi) TraceStepSkipped() {
	for _, t := range m {
		t.TraceStepSkipped()
	}
}

func (m Multi) TraceStepPending(match binding.Match, args []interface{}) {
	for _, t := range m {
		t.TraceStepPending(match, args)
	}
}

func (m Multi) TraceBindingError(err error) {
	for _, t := range m {
		t.TraceBindingError(err)
	}
}

func (m Multi) TraceError(err error, d time.Duration) {
	for _, t := range m {
		t.TraceError(err, d)
	}
}

func (m Multi) TraceNoMatchingStepDefinition(step scenario.StepInfo, missing Missing) {
	for _, t := range m {
		t.TraceNoMatchingStepDefinition(step, missing)
	}
}

func (m Multi) TraceDuration(d time.Duration, subject string) {
	for _, t := range m {
		t.TraceDuration(d, subject)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) TraceStep(scenario.StepInfo) {}
func (Nop) TraceWarning(string) {}
func (Nop) TraceStepDone(binding.Match, []interface{}, time.Duration) {}
func (Nop) TraceStepSkipped() {}
func (Nop) TraceStepPending(binding.Match, []interface{}) {}
func (Nop) TraceBindingError(error) {}
func (Nop) TraceError(error, time.Duration) {}
func (Nop) TraceNoMatchingStepDefinition(scenario.StepInfo, Missing) {}
func (Nop) TraceDuration(time.Duration, string) {}
