package binding

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/logger"
)

// MatchKind is the outcome of matching one step.
type MatchKind int

const (
	NoMatch MatchKind = iota
	Found
	Ambiguous
)

func (k MatchKind) String() string {
	switch k {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	default:
		return "no-match"
	}
}

// Match pairs a definition with the raw arguments extracted from a step.
type Match struct {
	Definition *StepDefinition
	Arguments  []string
}

// StepInstance is a step as the registry sees it.
type StepInstance struct {
	Bucket      Bucket
	Text        string
	HasArgument bool // step carries a table or doc string
	Scope       ScopeContext
}

// MatchResult is exactly one of a unique match, no match or an ambiguity.
type MatchResult struct {
	Kind  MatchKind
	Match Match
	// Candidates holds every tying match when Kind is Ambiguous.
	Candidates []Match
	// OutOfScope holds textual matches rejected by their scope when Kind is NoMatch.
	OutOfScope []Match
}

// Err returns the NoMatchError or AmbiguousError for unsuccessful results.
func (r MatchResult) Err(step StepInstance) error {
	switch r.Kind {
	case NoMatch:
		return &NoMatchError{Bucket: step.Bucket, Text: step.Text, OutOfScope: r.OutOfScope}
	case Ambiguous:
		return &AmbiguousError{Text: step.Text, Candidates: r.Candidates}
	}
	return nil
}

// Registry holds the step definitions. Registration happens before
// execution; Match is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	defs       []*StepDefinition
	signatures map[string]*StepDefinition
	sealed     bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{signatures: make(map[string]*StepDefinition)}
}

// Register validates and adds def.
func (r *Registry) Register(def *StepDefinition) error {
	if def == nil {
		return core.ErrInvalidBinding.WithMessage("nil step definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return core.ErrInvalidBinding.WithMessage(
			fmt.Sprintf("cannot register %s: registry is sealed", def))
	}
	sig := def.Signature()
	if existing, ok := r.signatures[sig]; ok {
		return &DuplicateBindingError{Definition: def, Existing: existing}
	}
	r.signatures[sig] = def
	r.defs = append(r.defs, def)
	return nil
}

// Seal ends the registration phase.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sealed {
		logger.Debug("binding registry sealed with %d step definitions", len(r.defs))
	}
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// StepDefinitions returns the definitions in registration order.
func (r *Registry) StepDefinitions() []*StepDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*StepDefinition(nil), r.defs...)
}

// Match finds the definition for step. Scope filtering happens before
// textual matching; scope-rejected textual matches are only reported for
// diagnostics and never take part in ambiguity.
func (r *Registry) Match(step StepInstance) MatchResult {
	r.mu.RLock()
	defs := r.defs
	r.mu.RUnlock()

	var found, outOfScope []Match
	for _, def := range defs {
		if !def.Bucket.Accepts(step.Bucket) {
			continue
		}
		args, ok := r.extract(def, step)
		if !ok {
			continue
		}
		m := Match{Definition: def, Arguments: args}
		if def.InScope(step.Scope) {
			found = append(found, m)
		} else {
			outOfScope = append(outOfScope, m)
		}
	}

	switch len(found) {
	case 0:
		return MatchResult{Kind: NoMatch, OutOfScope: outOfScope}
	case 1:
		return MatchResult{Kind: Found, Match: found[0]}
	default:
		return MatchResult{Kind: Ambiguous, Candidates: found}
	}
}

func (r *Registry) extract(def *StepDefinition, step StepInstance) ([]string, bool) {
	args, ok, err := def.Pattern.Match(step.Text)
	if err != nil {
		logger.Warn("step pattern %q timed out on %q: %v", def.Pattern.Source(), step.Text, err)
		return nil, false
	}
	if !ok || len(args) != def.ExpectedCaptures(step.HasArgument) {
		return nil, false
	}
	return args, true
}

// patternSyntax strips regex and placeholder syntax so that a pattern reads
// roughly like the steps it matches.
var patternSyntax = regexp2.MustCompile(`\(\?:|\\[dDwWsS][+*]?|[\^$()\[\]{}+*?|\\]|\b(int|float|word|string)\b(?=\})`, regexp2.None)

// Suggest returns up to n definitions in bucket whose patterns look closest to text.
func (r *Registry) Suggest(bucket Bucket, text string, n int) []*StepDefinition {
	defs := r.StepDefinitions()
	if n <= 0 || len(defs) == 0 {
		return nil
	}

	needle := strings.ToLower(text)
	var ranks fuzzy.Ranks
	for i, def := range defs {
		if !def.Bucket.Accepts(bucket) {
			continue
		}
		target := readable(def.Pattern.Source())
		distance := fuzzy.LevenshteinDistance(needle, target)
		if distance > max(len(needle), len(target))/2 {
			continue
		}
		ranks = append(ranks, fuzzy.Rank{Source: text, Target: def.Pattern.Source(), Distance: distance, OriginalIndex: i})
	}
	sort.Stable(ranks)

	out := make([]*StepDefinition, 0, n)
	for _, rank := range ranks {
		if len(out) == n {
			break
		}
		out = append(out, defs[rank.OriginalIndex])
	}
	return out
}

func readable(source string) string {
	stripped, err := patternSyntax.Replace(source, " ", -1, -1)
	if err != nil {
		stripped = source
	}
	return strings.ToLower(strings.Join(strings.Fields(stripped), " "))
}
