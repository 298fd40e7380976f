package feature

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

type rawFeature struct {
	Feature     string      `yaml:"feature"`
	Description string      `yaml:"description"`
	Language    string      `yaml:"language"`
	Tags        []string    `yaml:"tags"`
	Background  []yaml.Node `yaml:"background"`
	Scenarios   []yaml.Node `yaml:"scenarios"`
}

type rawScenario struct {
	Scenario    string      `yaml:"scenario"`
	Description string      `yaml:"description"`
	Tags        []string    `yaml:"tags"`
	Rule        *rawRule    `yaml:"rule"`
	Steps       []yaml.Node `yaml:"steps"`
}

type rawRule struct {
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags"`
}

// UnmarshalYAML accepts either a bare rule title or a {name, tags} mapping.
func (r *rawRule) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		r.Name = n.Value
		return nil
	}
	type plain rawRule
	return n.Decode((*plain)(r))
}

// ParseOptions configures plan parsing.
type ParseOptions struct {
	// DefaultLanguage applies to features without a language key.
	// Defaults to en-US.
	DefaultLanguage language.Tag
}

// ParseFile parses a YAML scenario plan file.
func ParseFile(path string) ([]*Feature, error) {
	return ParseFileWith(path, ParseOptions{})
}

// ParseFileWith parses a YAML scenario plan file with opts.
func ParseFileWith(path string, opts ParseOptions) ([]*Feature, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided plan file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseWith(data, path, opts)
}

// Parse parses YAML scenario plan content. Every YAML document in the input
// describes one feature.
func Parse(data []byte, sourcePath string) ([]*Feature, error) {
	return ParseWith(data, sourcePath, ParseOptions{})
}

// ParseWith parses YAML scenario plan content with opts.
func ParseWith(data []byte, sourcePath string, opts ParseOptions) ([]*Feature, error) {
	if opts.DefaultLanguage == language.Und {
		opts.DefaultLanguage = language.AmericanEnglish
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var features []*Feature
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid YAML: %v", err)}
		}
		if len(doc.Content) == 0 {
			continue
		}
		f, err := parseFeature(doc.Content[0], sourcePath, opts.DefaultLanguage)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}

	if len(features) == 0 {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty plan file",
		}
	}
	return features, nil
}

func parseFeature(node *yaml.Node, path string, lang language.Tag) (*Feature, error) {
	var raw rawFeature
	if err := node.Decode(&raw); err != nil {
		return nil, &ParseError{Path: path, Line: node.Line, Message: fmt.Sprintf("invalid feature: %v", err)}
	}
	if strings.TrimSpace(raw.Feature) == "" {
		return nil, &ParseError{Path: path, Line: node.Line, Message: "feature title is required"}
	}

	if raw.Language != "" {
		tag, err := language.Parse(raw.Language)
		if err != nil {
			return nil, &ParseError{Path: path, Line: node.Line, Message: fmt.Sprintf("invalid language %q: %v", raw.Language, err)}
		}
		lang = tag
	}

	f := &Feature{
		SourcePath: path,
		Info: Info{
			Title:       raw.Feature,
			Description: raw.Description,
			Language:    lang,
			Tags:        raw.Tags,
		},
	}

	for i := range raw.Background {
		step, err := parseStep(&raw.Background[i], path)
		if err != nil {
			return nil, err
		}
		f.Background = append(f.Background, step)
	}

	for i := range raw.Scenarios {
		sc, err := parseScenario(&raw.Scenarios[i], path)
		if err != nil {
			return nil, err
		}
		f.Scenarios = append(f.Scenarios, sc)
	}

	return f, nil
}

func parseScenario(node *yaml.Node, path string) (Scenario, error) {
	var raw rawScenario
	if err := node.Decode(&raw); err != nil {
		return Scenario{}, &ParseError{Path: path, Line: node.Line, Message: fmt.Sprintf("invalid scenario: %v", err)}
	}
	if strings.TrimSpace(raw.Scenario) == "" {
		return Scenario{}, &ParseError{Path: path, Line: node.Line, Message: "scenario title is required"}
	}

	sc := Scenario{
		Info: ScenarioInfo{
			Title:       raw.Scenario,
			Description: raw.Description,
			Tags:        raw.Tags,
		},
		Line: node.Line,
	}
	if raw.Rule != nil {
		sc.Rule = &RuleInfo{Title: raw.Rule.Name, Tags: raw.Rule.Tags}
	}

	for i := range raw.Steps {
		step, err := parseStep(&raw.Steps[i], path)
		if err != nil {
			return Scenario{}, err
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func parseStep(node *yaml.Node, path string) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return Step{}, &ParseError{Path: path, Line: node.Line, Message: "step must be a mapping like {given: text}"}
	}

	step := Step{Line: node.Line}
	var mediaType string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		if kw, ok := ParseKeyword(key.Value); ok {
			if step.Keyword != "" {
				return Step{}, &ParseError{Path: path, Line: key.Line, Message: "step has more than one keyword"}
			}
			step.Keyword = kw
			step.Text = strings.TrimSpace(value.Value)
			continue
		}

		switch key.Value {
		case "table":
			var rows [][]string
			if err := value.Decode(&rows); err != nil {
				return Step{}, &ParseError{Path: path, Line: value.Line, Message: fmt.Sprintf("invalid table: %v", err)}
			}
			if len(rows) == 0 {
				return Step{}, &ParseError{Path: path, Line: value.Line, Message: "table needs a header row"}
			}
			table := NewTable(rows[0], rows[1:]...)
			if err := table.Validate(); err != nil {
				return Step{}, &ParseError{Path: path, Line: value.Line, Message: err.Error()}
			}
			step.Table = table
		case "docString":
			step.DocString = &DocString{Content: value.Value}
		case "mediaType":
			mediaType = value.Value
		default:
			return Step{}, &ParseError{Path: path, Line: key.Line, Message: fmt.Sprintf("unknown step field %q", key.Value)}
		}
	}

	if step.Keyword == "" {
		return Step{}, &ParseError{Path: path, Line: node.Line, Message: "step has no keyword (given, when, then, and, but)"}
	}
	if step.Text == "" {
		return Step{}, &ParseError{Path: path, Line: node.Line, Message: "step text is empty"}
	}
	if step.Table != nil && step.DocString != nil {
		return Step{}, &ParseError{Path: path, Line: node.Line, Message: "step cannot have both a table and a docString"}
	}
	if step.DocString != nil {
		step.DocString.MediaType = mediaType
	}
	return step, nil
}
