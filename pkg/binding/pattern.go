package binding

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dlclark/regexp2"
)

// PatternKind tells how a pattern source is interpreted.
type PatternKind int

const (
	// AutoDetect picks Regex or Expression from the source text.
	AutoDetect PatternKind = iota
	Regex
	Expression
)

func (k PatternKind) String() string {
	switch k {
	case Regex:
		return "regex"
	case Expression:
		return "expression"
	default:
		return "auto"
	}
}

// MatchTimeout bounds a single regex evaluation.
const MatchTimeout = time.Second

// regexHints mark a source as a regular expression even without anchors.
var regexHints = []string{`\d`, `\w`, `\s`, `\S`, `\D`, `.*`, `.+`, `(?`, `[`}

// Pattern is a compiled step text pattern. It always matches the whole text.
type Pattern struct {
	source       string
	kind         PatternKind
	re           *regexp2.Regexp
	groups       []int
	stringGroups map[int]bool
}

// DetectKind reports whether source reads as a regex or a placeholder expression.
// Braces only make an expression when every one names a parameter type, so
// quantifiers such as \d{2} keep a source a regex.
func DetectKind(source string) PatternKind {
	if strings.HasPrefix(source, "^") || strings.HasSuffix(source, "$") {
		return Regex
	}
	for _, h := range regexHints {
		if strings.Contains(source, h) {
			return Regex
		}
	}
	if !knownPlaceholders(source) {
		return Regex
	}
	return Expression
}

// knownPlaceholders reports whether every unescaped {...} in source names an
// entry of parameterTypes.
func knownPlaceholders(source string) bool {
	runes := []rune(source)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			i++
		case '{':
			end := indexRune(runes, i, '}')
			if end < 0 {
				return false
			}
			if _, ok := parameterTypes[string(runes[i+1:end])]; !ok {
				return false
			}
			i = end
		}
	}
	return true
}

// NewPattern compiles source as kind.
func NewPattern(source string, kind PatternKind) (*Pattern, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("empty step pattern")
	}
	if kind == AutoDetect {
		kind = DetectKind(source)
	}

	p := &Pattern{source: source, kind: kind, stringGroups: map[int]bool{}}

	expr := source
	if kind == Expression {
		c := &expressionCompiler{}
		if err := c.compile(source); err != nil {
			return nil, fmt.Errorf("invalid step expression %q: %w", source, err)
		}
		expr = c.b.String()
		for _, g := range c.stringGroups {
			p.stringGroups[g] = true
		}
	}

	re, err := regexp2.Compile("^(?:"+expr+")$", regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid step regex %q: %w", source, err)
	}
	re.MatchTimeout = MatchTimeout
	p.re = re

	for _, n := range re.GetGroupNumbers() {
		if n != 0 {
			p.groups = append(p.groups, n)
		}
	}
	return p, nil
}

// MustPattern is NewPattern that panics on error.
func MustPattern(source string, kind PatternKind) *Pattern {
	p, err := NewPattern(source, kind)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the pattern as written.
func (p *Pattern) Source() string { return p.source }

// Kind returns Regex or Expression.
func (p *Pattern) Kind() PatternKind { return p.kind }

// CaptureCount returns the number of arguments a successful match yields.
func (p *Pattern) CaptureCount() int { return len(p.groups) }

func (p *Pattern) String() string { return p.source }

// Match extracts the captured arguments when the pattern consumes the whole
// text. A non-nil error means the evaluation timed out.
func (p *Pattern) Match(text string) ([]string, bool, error) {
	m, err := p.re.FindStringMatch(text)
	if err != nil {
		return nil, false, err
	}
	if m == nil || m.String() != text {
		return nil, false, nil
	}

	args := make([]string, 0, len(p.groups))
	for _, n := range p.groups {
		g := m.GroupByNumber(n)
		if g == nil || len(g.Captures) == 0 {
			args = append(args, "")
			continue
		}
		v := g.String()
		if p.stringGroups[n] && len(v) >= 2 {
			v = v[1 : len(v)-1]
		}
		args = append(args, v)
	}
	return args, true, nil
}

// expressionCompiler turns a placeholder expression such as
// "I have {int} cuke(s)" into a regular expression.
type expressionCompiler struct {
	b            strings.Builder
	group        int
	stringGroups []int
}

var parameterTypes = map[string]string{
	"int":    `(-?\d+)`,
	"float":  `(-?\d*[.,]?\d+)`,
	"word":   `([^\s]+)`,
	"string": `("[^"]*"|'[^']*')`,
	"":       `(.*)`,
}

func (c *expressionCompiler) compile(src string) error {
	for _, seg := range splitSegments(src) {
		if strings.TrimSpace(seg) == "" {
			c.b.WriteString(regexp2.Escape(seg))
			continue
		}
		alts, err := splitAlternatives(seg)
		if err != nil {
			return err
		}
		if len(alts) == 1 {
			if err := c.word(seg); err != nil {
				return err
			}
			continue
		}
		c.b.WriteString("(?:")
		for i, alt := range alts {
			if i > 0 {
				c.b.WriteByte('|')
			}
			if strings.ContainsAny(alt, "{(") {
				return fmt.Errorf("alternative %q may not contain parameters or optional text", alt)
			}
			c.b.WriteString(regexp2.Escape(unescape(alt)))
		}
		c.b.WriteByte(')')
	}
	return nil
}

// word compiles one whitespace-free segment that has no alternation.
func (c *expressionCompiler) word(seg string) error {
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			c.b.WriteString(regexp2.Escape(lit.String()))
			lit.Reset()
		}
	}

	runes := []rune(seg)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\\':
			if i+1 < len(runes) {
				i++
				lit.WriteRune(runes[i])
			}
		case '{':
			end := indexRune(runes, i, '}')
			if end < 0 {
				return fmt.Errorf("unclosed parameter at %d", i)
			}
			name := string(runes[i+1 : end])
			re, ok := parameterTypes[name]
			if !ok {
				return fmt.Errorf("unknown parameter type {%s}", name)
			}
			flush()
			c.group++
			if name == "string" {
				c.stringGroups = append(c.stringGroups, c.group)
			}
			c.b.WriteString(re)
			i = end
		case '(':
			end := indexRune(runes, i, ')')
			if end < 0 {
				return fmt.Errorf("unclosed optional text at %d", i)
			}
			flush()
			c.b.WriteString("(?:" + regexp2.Escape(unescape(string(runes[i+1:end]))) + ")?")
			i = end
		default:
			lit.WriteRune(r)
		}
	}
	flush()
	return nil
}

func indexRune(runes []rune, from int, r rune) int {
	for j := from + 1; j < len(runes); j++ {
		if runes[j] == '\\' {
			j++
			continue
		}
		if runes[j] == r {
			return j
		}
	}
	return -1
}

// splitSegments splits src into alternating whitespace and word segments.
// Whitespace inside optional text or a parameter stays in its word.
func splitSegments(src string) []string {
	var segs []string
	var cur strings.Builder
	depth := 0
	inSpace := false
	escaped := false

	for _, r := range src {
		space := unicode.IsSpace(r) && depth == 0 && !escaped
		if cur.Len() > 0 && space != inSpace {
			segs = append(segs, cur.String())
			cur.Reset()
		}
		inSpace = space
		cur.WriteRune(r)

		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '(' || r == '{':
			depth++
		case (r == ')' || r == '}') && depth > 0:
			depth--
		}
	}
	if cur.Len() > 0 {
		segs = append(segs, cur.String())
	}
	return segs
}

// splitAlternatives splits a word on unescaped slashes outside parentheses and braces.
func splitAlternatives(word string) ([]string, error) {
	var alts []string
	var cur strings.Builder
	depth := 0
	escaped := false

	for _, r := range word {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '(' || r == '{':
			depth++
		case (r == ')' || r == '}') && depth > 0:
			depth--
		case r == '/' && depth == 0:
			alts = append(alts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	alts = append(alts, cur.String())

	if len(alts) > 1 {
		for _, a := range alts {
			if a == "" {
				return nil, fmt.Errorf("empty alternative in %q", word)
			}
		}
	}
	return alts, nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
