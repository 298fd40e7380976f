// Package binding holds step definition bindings and matches step text
// against them.
package binding

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/stepbind/pkg/feature"
)

// Bucket is the keyword kind a step definition answers to.
type Bucket int

// Buckets. Any matches steps of every kind.
const (
	Given Bucket = iota
	When
	Then
	Any
)

func (b Bucket) String() string {
	switch b {
	case Given:
		return "Given"
	case When:
		return "When"
	case Then:
		return "Then"
	case Any:
		return "Step"
	default:
		return "unknown"
	}
}

// ParseBucket parses given, when, then or step (any).
func ParseBucket(s string) (Bucket, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "given":
		return Given, nil
	case "when":
		return When, nil
	case "then":
		return Then, nil
	case "step", "any", "*":
		return Any, nil
	}
	return 0, fmt.Errorf("unknown step kind %q", s)
}

// Accepts reports whether a definition in bucket b can bind a step resolved to step.
func (b Bucket) Accepts(step Bucket) bool {
	return b == Any || b == step
}

// ResolveBucket maps a step keyword onto a concrete bucket. Conjunctions
// inherit previous; a conjunction with no concrete predecessor resolves to Given.
func ResolveBucket(k feature.Keyword, previous Bucket) Bucket {
	switch k {
	case feature.Given:
		return Given
	case feature.When:
		return When
	case feature.Then:
		return Then
	}
	if previous == Given || previous == When || previous == Then {
		return previous
	}
	return Given
}
