// Package feature models the features, rules, scenarios and steps handed to
// the execution engine, and loads them from YAML scenario plans.
package feature

import (
	"slices"
	"strings"

	"golang.org/x/text/language"
)

// Keyword is a step keyword as written in the scenario.
type Keyword string

// Step keywords.
const (
	Given Keyword = "Given"
	When  Keyword = "When"
	Then  Keyword = "Then"
	And   Keyword = "And"
	But   Keyword = "But"
	Star  Keyword = "*"
)

// ParseKeyword maps a case-insensitive keyword onto its canonical form.
func ParseKeyword(s string) (Keyword, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "given":
		return Given, true
	case "when":
		return When, true
	case "then":
		return Then, true
	case "and":
		return And, true
	case "but":
		return But, true
	case "*", "step":
		return Star, true
	}
	return "", false
}

// IsConjunction reports whether the keyword inherits the previous step's kind.
func (k Keyword) IsConjunction() bool {
	return k == And || k == But || k == Star
}

// Info is the immutable metadata of a feature.
type Info struct {
	Title       string
	Description string
	Language    language.Tag // Natural language the steps are written in
	Tags        []string
}

// ScenarioInfo is the immutable metadata of a scenario.
type ScenarioInfo struct {
	Title       string
	Description string
	Tags        []string
}

// RuleInfo is the metadata of the rule grouping a scenario.
type RuleInfo struct {
	Title string
	Tags  []string
}

// Step is one line of a scenario.
type Step struct {
	Keyword   Keyword
	Text      string
	Table     *Table
	DocString *DocString
	Line      int
}

// Argument returns the multiline argument of the step, or nil.
func (s Step) Argument() interface{} {
	if s.Table != nil {
		return s.Table
	}
	if s.DocString != nil {
		return *s.DocString
	}
	return nil
}

// Scenario is one executable sequence of steps.
type Scenario struct {
	Info  ScenarioInfo
	Rule  *RuleInfo
	Steps []Step
	Line  int
}

// EffectiveTags returns the scenario tags plus the tags inherited from the
// rule and the feature, without duplicates.
func (s Scenario) EffectiveTags(f *Feature) []string {
	var tags []string
	add := func(in []string) {
		for _, t := range in {
			t = NormalizeTag(t)
			if t != "" && !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
	}
	if f != nil {
		add(f.Info.Tags)
	}
	if s.Rule != nil {
		add(s.Rule.Tags)
	}
	add(s.Info.Tags)
	return tags
}

// Feature is a named group of scenarios.
type Feature struct {
	SourcePath string
	Info       Info
	Background []Step
	Scenarios  []Scenario
}

// NormalizeTag strips the leading @ and surrounding whitespace.
func NormalizeTag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "@")
}

// HasTag reports whether tags contains tag, ignoring a leading @ and case.
func HasTag(tags []string, tag string) bool {
	tag = NormalizeTag(tag)
	for _, t := range tags {
		if strings.EqualFold(NormalizeTag(t), tag) {
			return true
		}
	}
	return false
}
