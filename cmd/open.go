package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var openCmd = &cobra.Command{
	Use:     "open OUTPUT",
	Aliases: []string{"o"},
	Short:   "Show an existing HTML or PDF file in a live viewer",
	Long: `Show OUTPUT in the browser without building anything. The viewer reloads
whenever the file changes, so another tool can keep rebuilding it.

Examples:
  sidepeek open out/paper.pdf
  sidepeek open site/index.html --no-open`,
	Args: fileArg,
	RunE: runOpen,
}

var openFlags *StandardFlags

func init() {
	rootCmd.AddCommand(openCmd)

	openFlags = AddStandardFlags(openCmd, "server")
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := serverConfig(cmd, openFlags)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{stderr: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	return a.serve(ctx, func(g *errgroup.Group, gctx context.Context) error {
		v, err := a.service.Open(gctx, args[0])
		if err != nil {
			return serviceError(err)
		}
		a.logger.Info(gctx, "Viewing", "output", v.Path(), "viewer", v.Surface().ID())
		return nil
	})
}
