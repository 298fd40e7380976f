package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/stepbind/pkg/config"
	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/executor"
	"github.com/devicelab-dev/stepbind/pkg/jsengine"
	"github.com/devicelab-dev/stepbind/pkg/logger"
	"github.com/devicelab-dev/stepbind/pkg/report"
	"github.com/devicelab-dev/stepbind/pkg/trace"
	"github.com/devicelab-dev/stepbind/pkg/validator"
)

func (a *app) runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run scenario plans",
		ArgsUsage: "[plan-file-or-folder]...",
		Description: `Run scenario plans against the registered step definitions.

Plans default to the features globs of the config file. The process exits
with status 1 when any scenario verdict is failed.

Examples:
  stepbind run plans/ --bindings 'steps/*.yaml'
  stepbind run plans/ --tags smoke --exclude-tags wip
  stepbind run plans/ --parallel 4 --format json
  stepbind run plans/ --report-dir ./reports/latest --allure`,
		Flags:  append(append(commonFlags(), planFlags()...), runFlags()...),
		Action: a.runPlans,
	}
}

// planFlags are the flags shared by run and validate.
func planFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "bindings",
			Aliases: []string{"b"},
			Usage:   "Glob patterns of script binding files",
		},
		&cli.StringSliceFlag{
			Name:  "tags",
			Usage: "Only include scenarios with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude scenarios with these tags",
		},
		&cli.StringFlag{
			Name:  "language",
			Usage: "Language of plans without a language key (BCP 47)",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: text or json",
			Value: "text",
		},
	}
}

// runFlags are the flags only run accepts.
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Run up to N scenarios concurrently (0 = sequential)",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Resolve every step without running anything",
		},
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Values exposed to script bindings (KEY=VALUE)",
		},
		&cli.StringFlag{
			Name:  "binding-culture",
			Usage: "Culture for argument conversion (default: each plan's language)",
		},
		&cli.StringFlag{
			Name:  "missing-steps",
			Usage: "Verdict for pending or undefined steps: inconclusive, ignore or error",
		},
		&cli.BoolFlag{
			Name:  "stop-at-first-error",
			Usage: "Skip the remaining scenarios after the first failed one",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "Print the step execution trace to stderr",
		},
		&cli.BoolFlag{
			Name:  "trace-timings",
			Usage: "Include step durations in the trace",
		},
		&cli.StringFlag{
			Name:  "report-dir",
			Usage: "Write report.json and per-scenario files to this directory",
		},
		&cli.BoolFlag{
			Name:  "save-report",
			Usage: "Write the report under $STEPBIND_HOME/reports/<timestamp>",
		},
		&cli.BoolFlag{
			Name:  "allure",
			Usage: "Also write allure-results into the report directory",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "Name of the run in reports",
		},
	}
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	cfg.Bindings = append(cfg.Bindings, c.StringSlice("bindings")...)
	if c.IsSet("tags") {
		cfg.IncludeTags = c.StringSlice("tags")
	}
	if c.IsSet("exclude-tags") {
		cfg.ExcludeTags = c.StringSlice("exclude-tags")
	}
	if c.IsSet("language") {
		cfg.Language = c.String("language")
	}
	if c.IsSet("binding-culture") {
		cfg.BindingCulture = c.String("binding-culture")
	}
	if c.IsSet("parallel") {
		cfg.Parallelism = c.Int("parallel")
	}
	if c.IsSet("missing-steps") {
		cfg.Runtime.MissingOrPendingStepsOutcome = c.String("missing-steps")
	}
	if c.IsSet("stop-at-first-error") {
		cfg.Runtime.StopAtFirstError = c.Bool("stop-at-first-error")
	}
	if c.IsSet("trace-timings") {
		cfg.Trace.Timings = c.Bool("trace-timings")
	}

	// CLI env overrides the config file
	if env := parseEnvVars(c.StringSlice("env")); len(env) > 0 {
		if cfg.Env == nil {
			cfg.Env = make(map[string]string)
		}
		for k, v := range env {
			cfg.Env[k] = v
		}
	}

	switch f := c.String("format"); f {
	case "text", "json":
	default:
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown format %q (want text or json)", f))
	}
	return cfg.Validate()
}

// resolveReportDir determines where the report goes.
// - --report-dir given: that directory
// - --save-report: $STEPBIND_HOME/reports/<timestamp>/
// - neither: no report directory
func resolveReportDir(c *cli.Context) string {
	if dir := c.String("report-dir"); dir != "" {
		return filepath.Clean(dir)
	}
	if c.Bool("save-report") {
		return config.RunReportDir(time.Now())
	}
	return ""
}

// loadPlans parses the plans named on the command line, or the config's
// feature globs, keeping the scenarios selected by the tag filters.
func loadPlans(c *cli.Context, cfg *config.Config) (*validator.Result, error) {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = cfg.Features
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario plans given: pass plan files or set features in the config")
	}

	lang, _ := cfg.FeatureLanguage()
	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags).WithLanguage(lang)

	result := &validator.Result{}
	for _, p := range paths {
		targets := []string{p}
		if strings.ContainsAny(p, "*?[") {
			matches, err := filepath.Glob(p)
			if err != nil {
				return nil, fmt.Errorf("invalid plan pattern %q: %w", p, err)
			}
			targets = matches
		}
		for _, t := range targets {
			r := v.Validate(t)
			result.Files = append(result.Files, r.Files...)
			result.Features = append(result.Features, r.Features...)
			result.Errors = append(result.Errors, r.Errors...)
		}
	}
	return result, nil
}

func planErrors(result *validator.Result) error {
	if len(result.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(result.Errors))
	for i, err := range result.Errors {
		msgs[i] = "  " + err.Error()
	}
	return fmt.Errorf("invalid scenario plans:\n%s", strings.Join(msgs, "\n"))
}

func (a *app) runPlans(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyFlags(c, cfg); err != nil {
		return err
	}

	reportDir := resolveReportDir(c)
	closeLog, err := a.setupLogging(c, reportDir)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("=== stepbind %s ===", Version)

	plans, err := loadPlans(c, cfg)
	if err != nil {
		return err
	}
	if err := planErrors(plans); err != nil {
		logger.Error("plan validation failed: %v", err)
		return err
	}
	logger.Info("loaded %d feature(s) from %d plan file(s)", len(plans.Features), len(plans.Files))

	reg, err := a.buildRegistry(cfg.Bindings)
	if err != nil {
		return err
	}

	if c.Bool("dry-run") {
		return a.printIssues(validator.Check(reg, plans.Features), c.String("format"))
	}

	outcome, _ := cfg.MissingStepsOutcome()
	culture, _ := cfg.Culture()
	minTraced, _ := cfg.MinTracedDuration()
	jsonOut := c.String("format") == "json"
	con := newConsole(a.opts.Stdout, noColor(c), cfg.Parallelism > 0, outcome)

	var tracer trace.Tracer = trace.Nop{}
	if c.Bool("trace") {
		tracer = trace.NewConsole(a.opts.Stderr, trace.ConsoleOptions{NoColor: noColor(c)})
	}

	providers := di.Chain{jsengine.Provider(jsengine.Options{Env: cfg.Env})}
	if a.opts.Provider != nil {
		providers = append(providers, a.opts.Provider)
	}

	rc := executor.RunnerConfig{
		Name:                         c.String("name"),
		Parallelism:                  cfg.Parallelism,
		StopAtFirstError:             cfg.Runtime.StopAtFirstError,
		BindingCulture:               culture,
		MissingOrPendingStepsOutcome: outcome,
		Provider:                     providers,
		Steps: executor.TestRunnerConfig{
			Tracer:            tracer,
			TargetLanguage:    cfg.TargetLanguage(),
			SkeletonStyle:     cfg.SkeletonStyle(),
			Suggestions:       3,
			TraceTimings:      cfg.Trace.Timings,
			MinTracedDuration: minTraced,
		},
	}

	var index *report.IndexWriter
	if reportDir != "" {
		index = report.NewIndexWriter(reportDir, outcome)
		index.Start(rc.Name)
	}
	rc.OnScenarioStart = func(idx, total int, featureTitle, scenarioTitle string) {
		if !jsonOut {
			con.onScenarioStart(idx, total, featureTitle, scenarioTitle)
		}
		if index != nil {
			index.ScenarioStarted(idx, total, featureTitle, scenarioTitle)
		}
	}
	rc.OnStepComplete = func(scenarioTitle string, step core.StepResult) {
		if !jsonOut {
			con.onStepComplete(scenarioTitle, step)
		}
	}
	rc.OnScenarioEnd = func(r core.ScenarioResult) {
		if !jsonOut {
			con.onScenarioEnd(r)
		}
		if index != nil {
			index.ScenarioFinished(r)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	suite, runErr := executor.New(reg, rc).Run(ctx, plans.Features)
	if runErr != nil {
		logger.Error("run failed: %v", runErr)
	}
	if suite == nil {
		return runErr
	}
	summary := report.Build(suite, outcome)

	if index != nil {
		if err := index.End(suite); err != nil {
			logger.Error("failed to write report: %v", err)
			return fmt.Errorf("failed to write report: %w", err)
		}
		if c.Bool("allure") {
			if err := report.GenerateAllure(reportDir, summary); err != nil {
				return fmt.Errorf("failed to write allure results: %w", err)
			}
		}
		logger.Info("report written to %s", reportDir)
	}

	if jsonOut {
		if err := summary.WriteJSON(a.opts.Stdout); err != nil {
			return err
		}
	} else {
		con.printSummary(summary)
		if reportDir != "" {
			con.printf("  Report: %s\n", reportDir)
		}
	}

	if runErr != nil {
		return runErr
	}
	if summary.Failed() {
		return cli.Exit("", 1)
	}
	return nil
}

// printIssues prints the dry-run result and fails when a step would not run.
func (a *app) printIssues(issues []validator.Issue, format string) error {
	out := a.opts.Stdout
	if format == "json" {
		type jsonIssue struct {
			Kind       string   `json:"kind"`
			File       string   `json:"file"`
			Line       int      `json:"line"`
			Feature    string   `json:"feature"`
			Scenario   string   `json:"scenario"`
			Step       string   `json:"step"`
			Candidates []string `json:"candidates,omitempty"`
		}
		list := make([]jsonIssue, len(issues))
		for i, is := range issues {
			list[i] = jsonIssue{
				Kind: string(is.Kind), File: is.File, Line: is.Line,
				Feature: is.Feature, Scenario: is.Scenario,
				Step: is.Bucket.String() + " " + is.Step,
			}
			for _, d := range is.Candidates {
				list[i].Candidates = append(list[i].Candidates, d.Method.Name())
			}
		}
		if err := writeJSON(out, list); err != nil {
			return err
		}
	} else {
		for _, is := range issues {
			fmt.Fprintln(out, is.String())
		}
		if len(issues) == 0 {
			fmt.Fprintln(out, "All steps resolve to exactly one step definition.")
		}
	}

	if len(issues) > 0 {
		return cli.Exit(fmt.Sprintf("%d step(s) would not run", len(issues)), 1)
	}
	return nil
}
