package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/stepbind/pkg/report"
)

func (a *app) reportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Print or convert a saved report",
		ArgsUsage: "<report-dir>",
		Description: `Read report.json and its scenario files from a report directory
written by "stepbind run --report-dir".

Examples:
  stepbind report ./reports/latest
  stepbind report ./reports/latest --allure`,
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: text or json",
				Value: "text",
			},
			&cli.BoolFlag{
				Name:  "steps",
				Usage: "List every step of failed and inconclusive scenarios",
			},
			&cli.BoolFlag{
				Name:  "allure",
				Usage: "Write allure-results into the report directory",
			},
		),
		Action: a.showReport,
	}
}

func (a *app) showReport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one report directory is required")
	}
	dir := c.Args().First()

	summary, err := report.ReadReport(dir)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}

	if c.Bool("allure") {
		if err := report.GenerateAllure(dir, summary); err != nil {
			return fmt.Errorf("failed to write allure results: %w", err)
		}
	}

	if c.String("format") == "json" {
		return summary.WriteJSON(a.opts.Stdout)
	}
	return summary.Render(a.opts.Stdout, report.TextOptions{
		NoColor: noColor(c),
		Steps:   c.Bool("steps"),
	})
}
