package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/sidepeek/internal/config"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/picker"
	"github.com/conneroisu/sidepeek/internal/preview"
	"github.com/conneroisu/sidepeek/internal/rules"
	"github.com/conneroisu/sidepeek/internal/server"
	"github.com/conneroisu/sidepeek/internal/store"
	"github.com/conneroisu/sidepeek/internal/tasks"
	"github.com/conneroisu/sidepeek/internal/viewer"
	"github.com/conneroisu/sidepeek/internal/watcher"
)

// app is the wired preview stack shared by the commands.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	notifier notify.Notifier
	choices  store.ChoiceStore
	service  *preview.Service
	surfaces *server.Surfaces
	server   *server.Server

	closers []io.Closer
}

type appOptions struct {
	// picker answers rule selections that the request does not answer.
	picker picker.Picker
	// stderr receives notifications and logs.
	stderr io.Writer
	// taskOutput receives task output as it is produced.
	taskOutput io.Writer
	// open is used instead of the browser when set.
	open server.Opener
}

// loadConfig reads the configuration the root command pointed viper at.
func loadConfig() (*config.Config, error) {
	return config.LoadFrom(viper.GetViper())
}

func newLogger(cfg *config.Config, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: out,
	}), nil
}

// openChoices opens the persistent choice store. A store held by another
// sidepeek process is skipped so the command still works without it.
func openChoices(ctx context.Context, cfg *config.Config, logger logging.Logger) (store.ChoiceStore, io.Closer) {
	if cfg.Store.Path == "" {
		return store.NewMemory(), nil
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Warn(ctx, err, "Rule choices will not be remembered", "store", cfg.Store.Path)
		return store.NewMemory(), nil
	}
	return db, db
}

// projectDir is the directory task working directories are relative to.
func projectDir(cfg *config.Config) string {
	if cfg.File != "" {
		if abs, err := filepath.Abs(filepath.Dir(cfg.File)); err == nil {
			return abs
		}
	}
	wd, _ := os.Getwd()
	return wd
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if opts.stderr == nil {
		opts.stderr = os.Stderr
	}
	logger, err := newLogger(cfg, opts.stderr)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		notifier: notify.NewWriter(opts.stderr),
	}

	choices, closer := openChoices(ctx, cfg, logger)
	a.choices = choices
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	provider := tasks.NewConfigProvider(cfg.Tasks, projectDir(cfg))
	matcher := rules.NewMatcher(cfg.Rules, provider, a.notifier, logger)
	resolver := rules.NewResolver(matcher, rules.NewCache(choices, logger), opts.picker, a.notifier, logger)

	var runnerOpts []tasks.RunnerOption
	if opts.taskOutput != nil {
		runnerOpts = append(runnerOpts, tasks.WithOutput(opts.taskOutput))
	}

	open := opts.open
	if open == nil {
		open = server.BrowserOpener(logger)
		if !cfg.Server.Open {
			open = func(url string) {
				logger.Info(ctx, "Viewer ready", "url", url)
			}
		}
	}
	a.surfaces = server.NewSurfaces("", open, logger)

	registry, err := viewer.NewRegistry(a.surfaces, watcher.Watcher(cfg.Viewer.Debounce, logger), logger)
	if err != nil {
		a.close()
		return nil, err
	}

	runner := tasks.NewRunner(logger, runnerOpts...)
	a.closers = append(a.closers, reportBuilds(runner, logger))

	a.service = preview.NewService(preview.Dependencies{
		Resolver: resolver,
		Runner:   runner,
		Registry: registry,
		Notifier: a.notifier,
		Logger:   logger,
	})
	a.server = server.New(cfg, a.service, a.surfaces, a.notifier, logger)
	return a, nil
}

// reportBuilds logs a summary line for every finished task until the
// returned closer is closed.
func reportBuilds(runner *tasks.Runner, logger logging.Logger) io.Closer {
	events, unsubscribe := runner.Subscribe()
	stop := make(chan struct{})
	go func() {
		ctx := context.Background()
		for {
			select {
			case <-stop:
				return
			case event := <-events:
				result := event.Execution.Result()
				fields := []interface{}{
					"task", event.Execution.Task().Name,
					"execution", event.Execution.ID(),
					"exit_code", result.ExitCode,
					"duration_ms", result.Duration.Milliseconds(),
				}
				if len(result.Problems) > 0 {
					fields = append(fields, "problems", len(result.Problems))
				}
				logger.Info(ctx, "Build finished", fields...)
			}
		}
	}()
	return closerFunc(func() error {
		unsubscribe()
		close(stop)
		return nil
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Shutdown stops the service and releases the store.
func (a *app) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.service.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, err, "Pending builds did not finish")
	}
	a.close()
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "closing:", err)
		}
	}
	a.closers = nil
}
