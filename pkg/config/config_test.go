package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/trace"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
features:
  - "plans/*.yaml"
bindings:
  - "steps/*.yaml"
includeTags:
  - smoke
excludeTags:
  - wip
language: de-DE
bindingCulture: en-GB
parallelism: 4
runtime:
  missingOrPendingStepsOutcome: error
  stopAtFirstError: true
trace:
  timings: true
  minTracedDuration: 250ms
  stepDefinitionSkeletonStyle: regex
  targetLanguage: javascript
env:
  USER: test
  PASS: secret
`
	cfg, err := Load(writeConfig(t, t.TempDir(), "config.yaml", content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(cfg.Features) != 1 || cfg.Features[0] != "plans/*.yaml" {
		t.Errorf("expected features [plans/*.yaml], got %v", cfg.Features)
	}
	if len(cfg.Bindings) != 1 || cfg.Bindings[0] != "steps/*.yaml" {
		t.Errorf("expected bindings [steps/*.yaml], got %v", cfg.Bindings)
	}
	if len(cfg.IncludeTags) != 1 || cfg.IncludeTags[0] != "smoke" {
		t.Errorf("expected includeTags [smoke], got %v", cfg.IncludeTags)
	}
	if len(cfg.ExcludeTags) != 1 || cfg.ExcludeTags[0] != "wip" {
		t.Errorf("expected excludeTags [wip], got %v", cfg.ExcludeTags)
	}
	if cfg.Env["USER"] != "test" || cfg.Env["PASS"] != "secret" {
		t.Errorf("expected env {USER:test, PASS:secret}, got %v", cfg.Env)
	}
	if cfg.Parallelism != 4 || !cfg.Runtime.StopAtFirstError || !cfg.Trace.Timings {
		t.Errorf("unexpected execution settings: %+v", cfg)
	}
	if o, _ := cfg.MissingStepsOutcome(); o != core.MissingStepsError {
		t.Errorf("expected outcome error, got %s", o)
	}
	if d, _ := cfg.MinTracedDuration(); d != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", d)
	}
	if cfg.SkeletonStyle() != trace.StyleRegex || cfg.TargetLanguage() != trace.LanguageJavaScript {
		t.Errorf("unexpected trace settings: %s %s", cfg.SkeletonStyle(), cfg.TargetLanguage())
	}
	if got := cfg.BindingCulture(); got != language.MustParse("en-GB") {
		t.Errorf("expected binding culture en-GB, got %s", got)
	}
	if got, _ := cfg.FeatureLanguage(); got != language.MustParse("de-DE") {
		t.Errorf("expected feature language de-DE, got %s", got)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
features = ["plans/*.yaml"]
language = "fr-FR"
parallelism = 2

[runtime]
missingOrPendingStepsOutcome = "ignore"

[trace]
timings = true

[env]
STAGE = "ci"
`
	cfg, err := Load(writeConfig(t, t.TempDir(), "config.toml", content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Language != "fr-FR" || cfg.Parallelism != 2 || !cfg.Trace.Timings {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Runtime.MissingOrPendingStepsOutcome != "ignore" || cfg.Env["STAGE"] != "ci" {
		t.Errorf("unexpected nested tables: %+v", cfg)
	}
	if cfg.Trace.TargetLanguage != "go" {
		t.Errorf("expected defaults after load, got %q", cfg.Trace.TargetLanguage)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", `features: [invalid yaml`},
		{"toml", "config.toml", `features = [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.file, tt.content))
			if !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), "config.yaml", ``))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Features) != 0 {
		t.Errorf("expected empty features, got %v", cfg.Features)
	}
	if cfg.Language != DefaultLanguage {
		t.Errorf("expected default language, got %q", cfg.Language)
	}
	if cfg.Runtime.MissingOrPendingStepsOutcome != "inconclusive" {
		t.Errorf("expected default outcome, got %q", cfg.Runtime.MissingOrPendingStepsOutcome)
	}
}

func TestLoadFromDir(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"config.yaml", map[string]string{"config.yaml": "language: de"}, "de"},
		{"config.yml", map[string]string{"config.yml": "language: fr"}, "fr"},
		{"config.toml", map[string]string{"config.toml": `language = "nl"`}, "nl"},
		{"prefers yaml over yml", map[string]string{"config.yaml": "language: de", "config.yml": "language: fr"}, "de"},
		{"prefers yml over toml", map[string]string{"config.yml": "language: fr", "config.toml": `language = "nl"`}, "fr"},
		{"no config", nil, DefaultLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeConfig(t, dir, name, content)
			}
			cfg, err := LoadFromDir(dir)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Language != tt.want {
				t.Errorf("expected language %q, got %q", tt.want, cfg.Language)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad language", func(c *Config) { c.Language = "not a tag!" }},
		{"bad culture", func(c *Config) { c.BindingCulture = "??" }},
		{"negative parallelism", func(c *Config) { c.Parallelism = -1 }},
		{"unknown outcome", func(c *Config) { c.Runtime.MissingOrPendingStepsOutcome = "explode" }},
		{"bad duration", func(c *Config) { c.Trace.MinTracedDuration = "soon" }},
		{"negative duration", func(c *Config) { c.Trace.MinTracedDuration = "-1s" }},
		{"unknown style", func(c *Config) { c.Trace.StepDefinitionSkeletonStyle = "glob" }},
		{"unknown target", func(c *Config) { c.Trace.TargetLanguage = "cobol" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("defaults should be valid: %v", err)
			}
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestBindingCultureFallsBackToLanguage(t *testing.T) {
	cfg := &Config{Language: "de-AT"}
	if got := cfg.BindingCulture(); got != language.MustParse("de-AT") {
		t.Errorf("expected de-AT, got %s", got)
	}
	if tag, _ := cfg.Culture(); tag != language.Und {
		t.Errorf("expected no explicit culture, got %s", tag)
	}
}

func TestResolve(t *testing.T) {
	cfg := &Config{Features: []string{"plans/*.yaml", "/abs/*.yaml"}, Bindings: []string{"steps.yaml"}}
	cfg.Resolve("/work")

	if cfg.Features[0] != filepath.Join("/work", "plans/*.yaml") || cfg.Features[1] != "/abs/*.yaml" {
		t.Errorf("unexpected features: %v", cfg.Features)
	}
	if cfg.Bindings[0] != filepath.Join("/work", "steps.yaml") {
		t.Errorf("unexpected bindings: %v", cfg.Bindings)
	}
}
