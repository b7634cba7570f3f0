// Package preview ties rule resolution, task execution and viewers together
// into the build, view and disconnect operations.
package preview

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/rules"
	"github.com/conneroisu/sidepeek/internal/tasks"
	"github.com/conneroisu/sidepeek/internal/viewer"
)

// Dependencies are the collaborators a Service coordinates.
type Dependencies struct {
	Resolver *rules.Resolver
	Runner   *tasks.Runner
	Registry *viewer.Registry
	// Notifier receives user-facing messages when the request context does
	// not carry its own.
	Notifier notify.Notifier
	Logger   logging.Logger
}

// Service owns the rule cache and the viewer registry of one session.
type Service struct {
	resolver *rules.Resolver
	runner   *tasks.Runner
	registry *viewer.Registry
	notifier notify.Notifier
	logger   logging.Logger

	views singleflight.Group
	wg    sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	shutdownOnce sync.Once
}

// NewService returns a service over deps. Resolver, Runner and Registry are
// required.
func NewService(deps Dependencies) *Service {
	if deps.Resolver == nil || deps.Runner == nil || deps.Registry == nil {
		panic("preview: resolver, runner and registry are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Service{
		resolver: deps.Resolver,
		runner:   deps.Runner,
		registry: deps.Registry,
		notifier: deps.Notifier,
		logger:   deps.Logger.WithComponent("preview"),
	}
}

// Resolver returns the rule resolver.
func (s *Service) Resolver() *rules.Resolver { return s.resolver }

// Registry returns the viewer registry.
func (s *Service) Registry() *viewer.Registry { return s.registry }

// Rule returns the rule for path, selecting one if none is cached.
func (s *Service) Rule(ctx context.Context, path string) (rules.Rule, error) {
	return s.resolver.Rule(ctx, Abs(path))
}

// Build saves doc and starts its rule's task. It does not wait for the task;
// the returned execution can be waited on. A failed build is reported to
// the notifier when it ends, unless shutdown killed it.
func (s *Service) Build(ctx context.Context, doc Document) (*tasks.Execution, error) {
	rule, err := s.Rule(ctx, doc.Path())
	if err != nil {
		return nil, err
	}
	return s.build(ctx, doc, rule)
}

func (s *Service) build(ctx context.Context, doc Document, rule rules.Rule) (*tasks.Execution, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}

	notifier := notify.FromContext(ctx, s.notifier)
	if err := doc.Save(ctx); err != nil {
		notifier.Error(ctx, errors.UserMessage(err))
		return nil, err
	}

	perf := logging.StartOperation(s.logger, "build")
	execution, err := s.runner.Execute(ctx, rule.Task)
	if err != nil {
		notifier.Error(ctx, errors.UserMessage(err))
		perf.EndWithError(ctx, err, "path", doc.Path(), "rule", rule.Label)
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-execution.Done()
		bg := context.WithoutCancel(ctx)
		result := execution.Result()
		if !result.Success() {
			if result.Killed {
				perf.EndWithError(bg, result.Err, "path", doc.Path(), "rule", rule.Label, "shutdown", true)
				return
			}
			detail := errors.UserMessage(result.Err)
			if problem, ok := errors.FirstError(result.Problems); ok {
				detail = problem.String()
			}
			notifier.Error(bg, fmt.Sprintf("Build %s failed: %s", rule.Label, detail))
			perf.EndWithError(bg, result.Err, "path", doc.Path(), "rule", rule.Label, "exit_code", result.ExitCode)
			return
		}
		perf.End(bg, "path", doc.Path(), "rule", rule.Label)
	}()

	return execution, nil
}

// Rebuild builds path if a rule has already been chosen for it and reports
// whether a build started. It never prompts.
func (s *Service) Rebuild(ctx context.Context, path string) (*tasks.Execution, bool, error) {
	path = Abs(path)
	rule, ok := s.resolver.Cache().Get(path)
	if !ok {
		return nil, false, nil
	}
	execution, err := s.build(ctx, NewFileDocument(path), rule)
	if err != nil {
		return nil, false, err
	}
	return execution, true, nil
}

// View shows the output of doc's rule. A live viewer is revealed without a
// rebuild. Otherwise doc is saved and built, and the viewer is opened once
// that execution ends. Cancelling ctx stops the wait but not the build, and
// the viewer still opens when it finishes.
func (s *Service) View(ctx context.Context, doc Document) (*viewer.Viewer, error) {
	rule, err := s.Rule(ctx, doc.Path())
	if err != nil {
		return nil, err
	}

	if v, ok := s.registry.Get(rule.Output); ok {
		s.registry.Reveal(ctx, rule.Output)
		s.logger.Debug(ctx, "Revealed live viewer", "path", doc.Path(), "output", rule.Output)
		return v, nil
	}

	bg := context.WithoutCancel(ctx)
	ch := s.views.DoChan(Abs(rule.Output), func() (interface{}, error) {
		return s.view(bg, doc, rule)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*viewer.Viewer), nil
	case <-ctx.Done():
		s.logger.Debug(ctx, "View request gone, viewer opens in background", "output", rule.Output)
		return nil, ctx.Err()
	}
}

func (s *Service) view(ctx context.Context, doc Document, rule rules.Rule) (*viewer.Viewer, error) {
	execution, err := s.build(ctx, doc, rule)
	if err != nil {
		return nil, err
	}

	<-execution.Done()

	if err := s.alive(); err != nil {
		return nil, err
	}
	if result := execution.Result(); !result.Success() {
		if _, statErr := os.Stat(rule.Output); statErr != nil {
			return nil, result.Err
		}
		s.logger.Info(ctx, "Showing previous output after failed build", "output", rule.Output)
	}
	return s.Open(ctx, rule.Output)
}

// Open shows an existing output file without building.
func (s *Service) Open(ctx context.Context, path string) (*viewer.Viewer, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	v, err := s.registry.Open(ctx, Abs(path))
	if err != nil {
		notify.FromContext(ctx, s.notifier).Error(ctx, errors.UserMessage(err))
		return nil, err
	}
	return v, nil
}

// Disconnect forgets the rule chosen for doc so the next request matches
// again.
func (s *Service) Disconnect(ctx context.Context, doc Document) {
	s.resolver.Disconnect(ctx, doc.Path())
}

// Close is called when an editor closes doc. It disconnects the document;
// in-flight builds and open viewers are left alone.
func (s *Service) Close(ctx context.Context, doc Document) {
	s.Disconnect(ctx, doc)
}

// Shutdown stops running tasks, waits for pending work until ctx is done and
// disposes every viewer. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.runner.Close()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		s.registry.DisposeAll()
		s.logger.Info(ctx, "Preview service shut down")
	})
	return err
}

func (s *Service) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewInternalError("SHUTDOWN", "preview service is shut down", nil)
	}
	return nil
}
