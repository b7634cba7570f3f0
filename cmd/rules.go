package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/sidepeek/internal/preview"
	"github.com/conneroisu/sidepeek/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:     "rules FILE",
	Aliases: []string{"r"},
	Short:   "List the rules matching a document",
	Long: `List every rule variant whose input pattern matches FILE, in the order
they would be offered, with the output path and the command that builds it.
The remembered choice, if any, is marked.

Examples:
  sidepeek rules paper.md
  sidepeek rules paper.md -o json`,
	Args: fileArg,
	RunE: runRules,
}

var rulesFlags *StandardFlags

func init() {
	rootCmd.AddCommand(rulesCmd)

	rulesFlags = AddStandardFlags(rulesCmd, "output")
}

// RuleRow is one line of the rules listing.
type RuleRow struct {
	Label    string `json:"label"`
	Output   string `json:"output"`
	Command  string `json:"command"`
	Selected bool   `json:"selected"`
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{stderr: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	path := preview.Abs(args[0])
	resolver := a.service.Resolver()
	candidates, err := resolver.Matcher().Match(ctx, path)
	if err != nil {
		return err
	}
	remembered, _ := resolver.Cache().Remembered(ctx, path)

	rows := make([]RuleRow, len(candidates))
	for i, c := range candidates {
		rows[i] = ruleRow(c, remembered)
	}

	if rulesFlags.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No rule matches %s\n", path)
		return nil
	}
	return writeRuleTable(cmd.OutOrStdout(), rows)
}

func ruleRow(rule rules.Rule, remembered string) RuleRow {
	row := RuleRow{
		Label:    rule.Label,
		Output:   rule.Output,
		Selected: rule.Label == remembered,
	}
	if shell := rule.Task.Shell(); shell != nil {
		row.Command = shell.CommandLine
	}
	return row
}

var titleCase = cases.Title(language.English)

func writeRuleTable(out io.Writer, rows []RuleRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	headers := []string{"", "label", "output", "command"}
	for i, h := range headers {
		headers[i] = titleCase.String(h)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, r := range rows {
		mark := ""
		if r.Selected {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, r.Label, r.Output, r.Command)
	}
	return w.Flush()
}
