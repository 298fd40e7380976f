// Package config handles configuration for stepbind.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/trace"
)

// DefaultLanguage is the feature language used when none is configured.
const DefaultLanguage = "en-US"

// Config represents the workspace configuration (config.yaml or config.toml).
type Config struct {
	// Plan selection
	Features    []string `yaml:"features" toml:"features"`       // Glob patterns for scenario plans
	Bindings    []string `yaml:"bindings" toml:"bindings"`       // Glob patterns for script binding files
	IncludeTags []string `yaml:"includeTags" toml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags" toml:"excludeTags"` // Tags to exclude

	// Cultures
	Language       string `yaml:"language" toml:"language"`             // Default feature language
	BindingCulture string `yaml:"bindingCulture" toml:"bindingCulture"` // Culture for argument conversion

	// Execution settings
	Parallelism int               `yaml:"parallelism" toml:"parallelism"`
	Runtime     RuntimeConfig     `yaml:"runtime" toml:"runtime"`
	Trace       TraceConfig       `yaml:"trace" toml:"trace"`
	Env         map[string]string `yaml:"env" toml:"env"` // Values exposed to script bindings
}

// RuntimeConfig controls how a run reacts to missing steps and failures.
type RuntimeConfig struct {
	MissingOrPendingStepsOutcome string `yaml:"missingOrPendingStepsOutcome" toml:"missingOrPendingStepsOutcome"`
	StopAtFirstError             bool   `yaml:"stopAtFirstError" toml:"stopAtFirstError"`
}

// TraceConfig controls the execution trace.
type TraceConfig struct {
	Timings                     bool   `yaml:"timings" toml:"timings"`
	MinTracedDuration           string `yaml:"minTracedDuration" toml:"minTracedDuration"`
	StepDefinitionSkeletonStyle string `yaml:"stepDefinitionSkeletonStyle" toml:"stepDefinitionSkeletonStyle"`
	TargetLanguage              string `yaml:"targetLanguage" toml:"targetLanguage"`
}

// Load loads configuration from a file. Files ending in .toml are read as
// TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("parse %s", path)).WithCause(err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("parse %s", path)).WithCause(err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadFromDir looks for config.yaml, config.yml or config.toml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Runtime.MissingOrPendingStepsOutcome == "" {
		c.Runtime.MissingOrPendingStepsOutcome = string(core.MissingStepsInconclusive)
	}
	if c.Trace.StepDefinitionSkeletonStyle == "" {
		c.Trace.StepDefinitionSkeletonStyle = string(trace.StyleExpression)
	}
	if c.Trace.TargetLanguage == "" {
		c.Trace.TargetLanguage = string(trace.LanguageGo)
	}
}

// Validate checks every field and returns an error wrapping
// core.ErrInvalidConfig for the first invalid one.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf(format, args...))
	}

	if _, err := c.FeatureLanguage(); err != nil {
		return invalid("language %q: %v", c.Language, err)
	}
	if _, err := c.Culture(); err != nil {
		return invalid("bindingCulture %q: %v", c.BindingCulture, err)
	}
	if c.Parallelism < 0 {
		return invalid("parallelism must not be negative, got %d", c.Parallelism)
	}
	if _, err := c.MissingStepsOutcome(); err != nil {
		return invalid("runtime.missingOrPendingStepsOutcome: %v", err)
	}
	if _, err := c.MinTracedDuration(); err != nil {
		return invalid("trace.minTracedDuration: %v", err)
	}
	if _, err := trace.ParseSkeletonStyle(c.Trace.StepDefinitionSkeletonStyle); err != nil {
		return invalid("trace.stepDefinitionSkeletonStyle: %v", err)
	}
	if _, err := trace.ParseTargetLanguage(c.Trace.TargetLanguage); err != nil {
		return invalid("trace.targetLanguage: %v", err)
	}
	for _, pattern := range append(append([]string{}, c.Features...), c.Bindings...) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return invalid("glob %q: %v", pattern, err)
		}
	}
	return nil
}

// FeatureLanguage returns the default feature language.
func (c *Config) FeatureLanguage() (language.Tag, error) {
	if c.Language == "" {
		return language.Make(DefaultLanguage), nil
	}
	return language.Parse(c.Language)
}

// Culture returns the culture used for argument conversion, or
// language.Und when bindingCulture is unset so that each feature's own
// language applies.
func (c *Config) Culture() (language.Tag, error) {
	if c.BindingCulture == "" {
		return language.Und, nil
	}
	return language.Parse(c.BindingCulture)
}

// BindingCulture returns the culture for argument conversion, falling back
// to the feature language.
func (c *Config) BindingCulture() language.Tag {
	if tag, err := c.Culture(); err == nil && tag != language.Und {
		return tag
	}
	tag, err := c.FeatureLanguage()
	if err != nil {
		return language.Make(DefaultLanguage)
	}
	return tag
}

// MissingStepsOutcome parses runtime.missingOrPendingStepsOutcome.
func (c *Config) MissingStepsOutcome() (core.MissingStepsOutcome, error) {
	switch o := core.MissingStepsOutcome(strings.ToLower(c.Runtime.MissingOrPendingStepsOutcome)); o {
	case "":
		return core.MissingStepsInconclusive, nil
	case core.MissingStepsInconclusive, core.MissingStepsIgnore, core.MissingStepsError:
		return o, nil
	default:
		return "", fmt.Errorf("unknown outcome %q (want inconclusive, ignore or error)", c.Runtime.MissingOrPendingStepsOutcome)
	}
}

// MinTracedDuration parses trace.minTracedDuration.
func (c *Config) MinTracedDuration() (time.Duration, error) {
	if c.Trace.MinTracedDuration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Trace.MinTracedDuration)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// SkeletonStyle returns the configured snippet style.
func (c *Config) SkeletonStyle() trace.SkeletonStyle {
	s, err := trace.ParseSkeletonStyle(c.Trace.StepDefinitionSkeletonStyle)
	if err != nil {
		return trace.StyleExpression
	}
	return s
}

// TargetLanguage returns the configured snippet language.
func (c *Config) TargetLanguage() trace.TargetLanguage {
	l, err := trace.ParseTargetLanguage(c.Trace.TargetLanguage)
	if err != nil {
		return trace.LanguageGo
	}
	return l
}

// Resolve makes relative globs absolute against dir, the directory the
// configuration was loaded from.
func (c *Config) Resolve(dir string) {
	abs := func(patterns []string) {
		for i, p := range patterns {
			if !filepath.IsAbs(p) {
				patterns[i] = filepath.Join(dir, p)
			}
		}
	}
	abs(c.Features)
	abs(c.Bindings)
}
