package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/stepbind/pkg/logger"
	"github.com/devicelab-dev/stepbind/pkg/validator"
)

func (a *app) validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check that plans parse and every step resolves",
		ArgsUsage: "[plan-file-or-folder]...",
		Description: `Parse scenario plans and resolve every step against the step
definitions without running anything. Undefined and ambiguous steps are
listed and make the command exit with status 1.`,
		Flags:  append(commonFlags(), planFlags()...),
		Action: a.validatePlans,
	}
}

func (a *app) validatePlans(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyFlags(c, cfg); err != nil {
		return err
	}
	closeLog, err := a.setupLogging(c, "")
	if err != nil {
		return err
	}
	defer closeLog()

	plans, err := loadPlans(c, cfg)
	if err != nil {
		return err
	}
	if err := planErrors(plans); err != nil {
		return err
	}

	reg, err := a.buildRegistry(cfg.Bindings)
	if err != nil {
		return err
	}

	scenarios := 0
	for _, f := range plans.Features {
		scenarios += len(f.Scenarios)
	}
	logger.Info("validating %d scenario(s) against %d step definition(s)", scenarios, reg.Len())
	if c.String("format") != "json" {
		fmt.Fprintf(a.opts.Stdout, "%d plan file(s), %d feature(s), %d scenario(s), %d step definition(s)\n",
			len(plans.Files), len(plans.Features), scenarios, reg.Len())
	}
	return a.printIssues(validator.Check(reg, plans.Features), c.String("format"))
}
