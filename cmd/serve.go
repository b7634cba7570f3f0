package cmd

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/sidepeek/internal/config"
	"github.com/conneroisu/sidepeek/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the preview daemon",
	Long: `Run the preview daemon. It serves the HTTP API used by editors and
scripts and the browser viewers that show build outputs.

With --watch, saving a source below one of the given directories rebuilds it
when a rule has already been chosen for it.

Examples:
  sidepeek serve                      # Serve on the configured port
  sidepeek serve -p 0 --no-open       # Pick a free port, print viewer URLs
  sidepeek serve --watch docs         # Rebuild saved sources under docs`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveFlags *StandardFlags
	serveWatch []string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveFlags = AddStandardFlags(serveCmd, "server")
	serveCmd.Flags().StringSliceVarP(&serveWatch, "watch", "w", nil, "Rebuild sources saved below these directories")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := serverConfig(cmd, serveFlags)
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
		if len(serveWatch) == 0 {
			return nil
		}
		return a.watchSources(g, gctx, serveWatch)
	})
}

// serverConfig loads the configuration with the server flags applied.
func serverConfig(cmd *cobra.Command, flags *StandardFlags) (*config.Config, error) {
	if err := SetViperBindings(cmd, serverBindings); err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if flags.NoOpen {
		cfg.Server.Open = false
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serve binds the HTTP server and runs it, along with anything start adds to
// the group, until ctx is done or one of them fails.
func (a *app) serve(ctx context.Context, start func(g *errgroup.Group, gctx context.Context) error) error {
	ln, err := a.server.Listen()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Serve(gctx, ln)
	})
	if start != nil {
		if err := start(g, gctx); err != nil {
			ln.Close()
			return err
		}
	}

	a.logger.Info(ctx, "sidepeek is running", "url", a.server.URL(), "rules", len(a.cfg.Rules))
	err = g.Wait()
	a.logger.Info(context.Background(), "Shutting down")
	return err
}

// watchSources rebuilds sources saved below dirs when their rule is known.
func (a *app) watchSources(g *errgroup.Group, ctx context.Context, dirs []string) error {
	fw, err := watcher.NewSourceWatcher(a.cfg.Viewer.Debounce, a.logger)
	if err != nil {
		return err
	}

	inputs := make([]*regexp.Regexp, 0, len(a.cfg.Rules))
	for _, rule := range a.cfg.Rules {
		inputs = append(inputs, rule.Input)
	}
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.PatternFilter(inputs...))
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, event := range events {
			if event.Type == watcher.EventTypeRemoved {
				continue
			}
			if _, started, err := a.service.Rebuild(ctx, event.Path); err != nil {
				a.logger.Warn(ctx, err, "Rebuild failed", "path", event.Path)
			} else if started {
				a.logger.Info(ctx, "Rebuilding", "path", event.Path)
			}
		}
		return nil
	})

	for _, dir := range dirs {
		if err := fw.AddRecursive(dir); err != nil {
			fw.Stop()
			return err
		}
	}

	g.Go(func() error {
		if err := fw.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return fw.Stop()
	})
	return nil
}
