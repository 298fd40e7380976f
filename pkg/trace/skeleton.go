package trace

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/feature"
	"github.com/devicelab-dev/stepbind/pkg/scenario"
)

// TargetLanguage selects the language of generated step skeletons.
type TargetLanguage string

const (
	LanguageGo         TargetLanguage = "go"
	LanguageJavaScript TargetLanguage = "javascript"
)

// SkeletonStyle selects the pattern form of generated step skeletons.
type SkeletonStyle string

const (
	StyleExpression SkeletonStyle = "expression"
	StyleRegex      SkeletonStyle = "regex"
)

// ParseTargetLanguage accepts go, javascript or js.
func ParseTargetLanguage(s string) (TargetLanguage, error) {
	switch strings.ToLower(s) {
	case "", "go":
		return LanguageGo, nil
	case "javascript", "js":
		return LanguageJavaScript, nil
	}
	return "", fmt.Errorf("unknown skeleton language %q", s)
}

// ParseSkeletonStyle accepts expression or regex.
func ParseSkeletonStyle(s string) (SkeletonStyle, error) {
	switch strings.ToLower(s) {
	case "", "expression", "cucumberexpression":
		return StyleExpression, nil
	case "regex", "regexattribute":
		return StyleRegex, nil
	}
	return "", fmt.Errorf("unknown skeleton style %q", s)
}

// stepValues finds quoted strings and numbers in step text.
var stepValues = regexp2.MustCompile(`"[^"]*"|-?\d+(?:[.,]\d+)?`, regexp2.None)

type skeletonParam struct {
	kind string // int, float, string, table, docstring
}

// analyzed is step text split into literal text and parameters.
type analyzed struct {
	literals []string // len(params)+1 pieces around the parameters
	params   []skeletonParam
}

func analyze(step scenario.StepInfo) analyzed {
	var a analyzed
	text := []rune(step.Text)
	last := 0

	m, _ := stepValues.FindStringMatch(step.Text)
	for m != nil {
		kind := "int"
		v := m.String()
		switch {
		case strings.HasPrefix(v, `"`):
			kind = "string"
		case strings.ContainsAny(v, ".,"):
			kind = "float"
		}
		a.literals = append(a.literals, string(text[last:m.Index]))
		a.params = append(a.params, skeletonParam{kind: kind})
		last = m.Index + m.Length
		m, _ = stepValues.FindNextMatch(m)
	}
	a.literals = append(a.literals, string(text[last:]))

	switch step.Argument.(type) {
	case *feature.Table:
		a.params = append(a.params, skeletonParam{kind: "table"})
	case feature.DocString, *feature.DocString:
		a.params = append(a.params, skeletonParam{kind: "docstring"})
	}
	return a
}

var (
	expressionEscaper = strings.NewReplacer(`\`, `\\`, `(`, `\(`, `{`, `\{`, `/`, `\/`)
	regexEscaper      = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `+`, `\+`, `*`, `\*`, `?`, `\?`,
		`(`, `\(`, `)`, `\)`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`, `|`, `\|`, `^`, `\^`, `$`, `\$`)
)

func (a analyzed) pattern(style SkeletonStyle) string {
	var b strings.Builder
	if style == StyleRegex {
		b.WriteByte('^')
	}
	for i, lit := range a.literals {
		if style == StyleRegex {
			b.WriteString(regexEscaper.Replace(lit))
		} else {
			b.WriteString(expressionEscaper.Replace(lit))
		}
		if i >= len(a.params) {
			continue
		}
		switch p := a.params[i]; {
		case style == StyleRegex && p.kind == "string":
			b.WriteString(`"([^"]*)"`)
		case style == StyleRegex && p.kind == "float":
			b.WriteString(`(-?\d+(?:[.,]\d+)?)`)
		case style == StyleRegex:
			b.WriteString(`(-?\d+)`)
		default:
			b.WriteString("{" + p.kind + "}")
		}
	}
	if style == StyleRegex {
		b.WriteByte('$')
	}
	return b.String()
}

func (a analyzed) methodName() string {
	title := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	for _, lit := range a.literals {
		for _, w := range strings.FieldsFunc(lit, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			b.WriteString(title.String(w))
		}
	}
	name := b.String()
	if name == "" || !unicode.IsLetter([]rune(name)[0]) {
		name = "Step" + name
	}
	return name
}

var goTypes = map[string]string{
	"int":       "int",
	"float":     "float64",
	"string":    "string",
	"table":     "*feature.Table",
	"docstring": "string",
}

// Skeleton renders a step definition stub for an undefined step.
func Skeleton(step scenario.StepInfo, lang TargetLanguage, style SkeletonStyle) string {
	a := analyze(step)
	pattern := a.pattern(style)
	kw := step.Bucket.String()
	if step.Bucket == binding.Any {
		kw = "Step"
	}

	var b strings.Builder
	if lang == LanguageJavaScript {
		kinds := make([]string, len(a.params))
		args := make([]string, len(a.params))
		for i, p := range a.params {
			kinds[i] = p.kind
			args[i] = fmt.Sprintf("p%d", i)
		}
		fmt.Fprintf(&b, "- %s: %q\n", strings.ToLower(kw), pattern)
		if len(kinds) > 0 {
			fmt.Fprintf(&b, "  params: [%s]\n", strings.Join(kinds, ", "))
		}
		fmt.Fprintf(&b, "  script: |\n    function (%s) {\n      pending();\n    }\n", strings.Join(args, ", "))
		return b.String()
	}

	name := a.methodName()
	args := make([]string, len(a.params))
	for i, p := range a.params {
		args[i] = fmt.Sprintf("p%d %s", i, goTypes[p.kind])
	}
	fmt.Fprintf(&b, "binding.For[StepDefinitions](b).%s(`%s`, (*StepDefinitions).%s)\n\n", kw, pattern, name)
	fmt.Fprintf(&b, "func (s *StepDefinitions) %s(%s) error {\n\treturn core.Pending(\"\")\n}\n", name, strings.Join(args, ", "))
	return b.String()
}
