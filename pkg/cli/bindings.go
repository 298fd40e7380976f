package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/stepbind/pkg/binding"
)

func (a *app) bindingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "bindings",
		Usage: "List the registered step definitions",
		Description: `List every step definition: Go definitions of the embedding program
and script definitions from --bindings.

Examples:
  stepbind bindings --bindings 'steps/*.yaml'
  stepbind bindings --bindings 'steps/*.yaml' --filter "eat cukes"`,
		Flags: append(commonFlags(),
			&cli.StringSliceFlag{
				Name:    "bindings",
				Aliases: []string{"b"},
				Usage:   "Glob patterns of script binding files",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Only list definitions whose pattern fuzzily matches this text",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: text or json",
				Value: "text",
			},
		),
		Action: a.listBindings,
	}
}

type bindingEntry struct {
	Bucket  string   `json:"bucket"`
	Kind    string   `json:"kind"`
	Pattern string   `json:"pattern"`
	Method  string   `json:"method"`
	Params  []string `json:"params,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

func newBindingEntry(d *binding.StepDefinition) bindingEntry {
	e := bindingEntry{
		Bucket:  d.Bucket.String(),
		Kind:    d.Pattern.Kind().String(),
		Pattern: d.Pattern.Source(),
		Method:  d.Method.Name(),
	}
	for _, t := range d.Method.ParamTypes() {
		e.Params = append(e.Params, t.String())
	}
	for _, s := range d.Scopes {
		e.Scopes = append(e.Scopes, s.String())
	}
	return e
}

// filterDefinitions keeps the definitions whose pattern fuzzily contains
// query, best matches first.
func filterDefinitions(defs []*binding.StepDefinition, query string) []*binding.StepDefinition {
	if query == "" {
		return defs
	}
	sources := make([]string, len(defs))
	for i, d := range defs {
		sources[i] = d.Pattern.Source()
	}
	ranks := fuzzy.RankFindNormalizedFold(query, sources)
	sort.Stable(ranks)

	out := make([]*binding.StepDefinition, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, defs[r.OriginalIndex])
	}
	return out
}

func (a *app) listBindings(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	closeLog, err := a.setupLogging(c, "")
	if err != nil {
		return err
	}
	defer closeLog()

	reg, err := a.buildRegistry(append(cfg.Bindings, c.StringSlice("bindings")...))
	if err != nil {
		return err
	}
	defs := filterDefinitions(reg.StepDefinitions(), c.String("filter"))

	entries := make([]bindingEntry, len(defs))
	for i, d := range defs {
		entries[i] = newBindingEntry(d)
	}

	if c.String("format") == "json" {
		return writeJSON(a.opts.Stdout, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.opts.Stdout, "No step definitions found.")
		return nil
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Bucket, e.Pattern, e.Kind, e.Method, strings.Join(e.Scopes, " | ")}
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("Step", "Pattern", "Kind", "Method", "Scope").
		Rows(rows...)
	fmt.Fprintln(a.opts.Stdout, t.String())
	fmt.Fprintf(a.opts.Stdout, "%d step definition(s)\n", len(entries))
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
