package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sidepeek/internal/preview"
)

var buildCmd = &cobra.Command{
	Use:     "build FILE",
	Aliases: []string{"b"},
	Short:   "Build a document once",
	Long: `Build FILE with its rule and wait for the task to finish. Task output is
printed as it runs and sidepeek exits with the task's exit status.

Examples:
  sidepeek build paper.md
  sidepeek build paper.md --rule "pandoc: html"`,
	Args: fileArg,
	RunE: runBuild,
}

var buildFlags *StandardFlags

func init() {
	rootCmd.AddCommand(buildCmd)

	buildFlags = AddStandardFlags(buildCmd, "rule")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		picker:     cliPicker(buildFlags.Rule),
		stderr:     cmd.ErrOrStderr(),
		taskOutput: cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	doc := preview.NewFileDocument(args[0])
	execution, err := a.service.Build(ctx, doc)
	if err != nil {
		return serviceError(err)
	}

	result, err := execution.Wait(ctx)
	if err != nil {
		return reported(130, err)
	}
	if !result.Success() {
		code := result.ExitCode
		if code <= 0 {
			code = 1
		}
		return reported(code, result.Err)
	}

	rule, _ := a.service.Resolver().Cache().Get(doc.Path())
	a.notifier.Info(ctx, fmt.Sprintf("Built %s in %s", rule.Output, result.Duration.Round(time.Millisecond)))
	return nil
}
