// Package cli provides the command-line interface for stepbind.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/stepbind/pkg/binding"
	"github.com/devicelab-dev/stepbind/pkg/config"
	"github.com/devicelab-dev/stepbind/pkg/di"
	"github.com/devicelab-dev/stepbind/pkg/jsengine"
	"github.com/devicelab-dev/stepbind/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// commonFlags returns the flags every command accepts.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to config.yaml or config.toml (default: ./config.{yaml,yml,toml})",
			EnvVars: []string{"STEPBIND_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Enable verbose logging",
			EnvVars: []string{"STEPBIND_VERBOSE"},
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write the log to this file",
		},
		&cli.BoolFlag{
			Name:  "log",
			Usage: "Write the log under $STEPBIND_HOME/logs",
		},
		&cli.BoolFlag{
			Name:  "no-ansi",
			Usage: "Disable ANSI colors",
		},
	}
}

// Options lets a program embed the CLI with its own Go step definitions.
type Options struct {
	// Bindings registers Go step definitions on a fresh registry for every
	// command. Script bindings from --bindings are added next to them.
	Bindings func(b *binding.Builder)
	// Provider registers services on the root container and on every
	// scenario scope, after the script engine defaults.
	Provider di.DefaultDependencyProvider

	Stdout io.Writer
	Stderr io.Writer
}

type app struct {
	opts Options
}

// NewApp builds the stepbind application. Exit codes are returned as
// cli.ExitCoder errors instead of terminating the process.
func NewApp(opts Options) *cli.App {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	a := &app{opts: opts}

	return &cli.App{
		Name:    "stepbind",
		Usage:   "Bind scenario steps to step definitions and run them",
		Version: Version,
		Description: `stepbind runs YAML scenario plans against Go or script step definitions.

Examples:
  stepbind run plans/ --bindings 'steps/*.yaml'
  stepbind run login.yaml --tags smoke --parallel 4
  stepbind validate plans/ --bindings 'steps/*.yaml'
  stepbind bindings --filter cukes`,
		Writer:         opts.Stdout,
		ErrWriter:      opts.Stderr,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			a.runCommand(),
			a.validateCommand(),
			a.bindingsCommand(),
			a.reportCommand(),
		},
	}
}

// Execute runs the CLI with script bindings only.
func Execute() {
	ExecuteWith(Options{})
}

// ExecuteWith runs the CLI with opts and exits the process.
func ExecuteWith(opts Options) {
	err := NewApp(opts).Run(os.Args)
	if err == nil {
		return
	}

	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		if msg := exit.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(exit.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadConfig loads --config, or the config file of the working directory,
// and validates it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
		if err == nil {
			cfg.Resolve(filepath.Dir(path))
		}
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogging routes the global logger. reportDir, when set, receives the
// log unless --log-file or --log chose another place. The returned func
// closes the log.
func (a *app) setupLogging(c *cli.Context, reportDir string) (func(), error) {
	if c.Bool("verbose") {
		if err := logger.SetLevel("debug"); err != nil {
			return nil, err
		}
	}

	path := c.String("log-file")
	switch {
	case path != "":
	case c.Bool("log"):
		path = config.RunLogPath(time.Now())
	case reportDir != "":
		path = filepath.Join(reportDir, "stepbind.log")
	case c.Bool("verbose"):
		logger.SetOutput(a.opts.Stderr)
		return logger.Close, nil
	default:
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := logger.Init(path); err != nil {
		return nil, err
	}
	return logger.Close, nil
}

// buildRegistry creates the registry for one command: Go step definitions
// from Options plus the script binding files matching patterns.
func (a *app) buildRegistry(patterns []string) (*binding.Registry, error) {
	reg := binding.NewRegistry()
	if a.opts.Bindings != nil {
		b := binding.NewBuilder(reg)
		a.opts.Bindings(b)
		if err := b.Err(); err != nil {
			return nil, err
		}
	}

	if len(patterns) == 0 {
		return reg, nil
	}
	files, err := jsengine.LoadBindings(patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logger.Warn("no binding files match %v", patterns)
	}
	if err := jsengine.Register(reg, files...); err != nil {
		return nil, err
	}
	logger.Info("registered %d step definitions from %d binding file(s)", reg.Len(), len(files))
	return reg, nil
}

// noColor reports whether output should be plain.
func noColor(c *cli.Context) bool {
	return c.Bool("no-ansi") || os.Getenv("NO_COLOR") != ""
}
