package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/sidepeek/internal/lsp"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the editor adapter over stdio",
	Long: `Run a Language Server Protocol server on stdin and stdout. Editors get
the sidepeek.build, sidepeek.view and sidepeek.disconnect commands, which
take the document URI as their argument. Viewers are served over HTTP as
with serve.

Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runLSP,
}

var lspFlags *StandardFlags

func init() {
	rootCmd.AddCommand(lspCmd)

	lspFlags = AddStandardFlags(lspCmd, "server")
	lspCmd.Flags().Bool("build-on-save", false, "Rebuild saved documents that already have a rule")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	if err := SetViperBindings(cmd, map[string]string{"build-on-save": "lsp.build_on_save"}); err != nil {
		return err
	}
	cfg, err := serverConfig(cmd, lspFlags)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{stderr: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	opts := lsp.Options{BuildOnSave: cfg.LSP.BuildOnSave}
	return a.serve(ctx, func(g *errgroup.Group, gctx context.Context) error {
		g.Go(func() error {
			// The client going away ends the whole process.
			defer cancel()
			return lsp.Serve(gctx, lsp.Stdio(), a.service, opts, a.logger)
		})
		return nil
	})
}
