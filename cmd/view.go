package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/sidepeek/internal/picker"
	"github.com/conneroisu/sidepeek/internal/preview"
)

var viewCmd = &cobra.Command{
	Use:     "view FILE",
	Aliases: []string{"v"},
	Short:   "Build a document and show its output in a live viewer",
	Long: `Build FILE with its rule and show the output in the browser. The viewer
reloads whenever the output changes; sidepeek keeps serving it until
interrupted.

When several rules match, the one chosen with --rule is used; otherwise you
are asked on a terminal and the first rule is used elsewhere.

Examples:
  sidepeek view paper.md
  sidepeek view paper.md --rule "pandoc: pdf"
  sidepeek view paper.md -p 0 --no-open`,
	Args: fileArg,
	RunE: runView,
}

var viewFlags *StandardFlags

func init() {
	rootCmd.AddCommand(viewCmd)

	viewFlags = AddStandardFlags(viewCmd, "server", "rule")
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, err := serverConfig(cmd, viewFlags)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		picker: cliPicker(viewFlags.Rule),
		stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	doc := preview.NewFileDocument(args[0])
	return a.serve(ctx, func(g *errgroup.Group, gctx context.Context) error {
		g.Go(func() error {
			v, err := a.service.View(gctx, doc)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return serviceError(err)
			}
			a.logger.Info(gctx, "Viewing", "output", v.Path(), "viewer", v.Surface().ID())
			return nil
		})
		return nil
	})
}

// cliPicker chooses rules for commands run from a shell: the --rule label,
// then a prompt on a terminal, then the first candidate.
func cliPicker(rule string) picker.Picker {
	return picker.Chain{
		picker.Fixed(rule),
		picker.ForTerminal(os.Stdin, os.Stderr),
		picker.First{},
	}
}
