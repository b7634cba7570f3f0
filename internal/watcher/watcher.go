// Package watcher reports file system changes with debouncing. SourceWatcher
// follows whole directory trees of sources; FileWatch follows a single output
// file.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/sidepeek/internal/logging"
)

// EventType is what happened to a source.
type EventType int

const (
	// EventTypeSaved covers creation, writes and editors replacing the file.
	EventTypeSaved EventType = iota
	EventTypeRemoved
)

func (e EventType) String() string {
	switch e {
	case EventTypeSaved:
		return "saved"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeEvent is the last thing that happened to Path within one batch.
type ChangeEvent struct {
	Type EventType
	Path string
}

// FileFilter reports whether a file is of interest.
type FileFilter func(path string) bool

// ChangeHandler receives one debounced batch.
type ChangeHandler func(events []ChangeEvent) error

// SourceWatcher follows directory trees and reports changed files in
// debounced batches. Directories created below a followed tree are followed
// as well.
type SourceWatcher struct {
	fs     *fsnotify.Watcher
	delay  time.Duration
	logger logging.Logger

	mu       sync.Mutex
	filters  []FileFilter
	handlers []ChangeHandler
	pending  []ChangeEvent
	timer    *time.Timer
	ctx      context.Context

	stopOnce sync.Once
	stopErr  error
}

// NewSourceWatcher returns a watcher that waits delay after the last event
// before reporting a batch.
func NewSourceWatcher(delay time.Duration, logger logging.Logger) (*SourceWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &SourceWatcher{
		fs:     fs,
		delay:  delay,
		logger: logger.WithComponent("watcher"),
		ctx:    context.Background(),
	}, nil
}

// AddFilter adds a filter every reported file must pass.
func (sw *SourceWatcher) AddFilter(filter FileFilter) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.filters = append(sw.filters, filter)
}

// AddHandler adds a batch handler.
func (sw *SourceWatcher) AddHandler(handler ChangeHandler) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.handlers = append(sw.handlers, handler)
}

// AddPath follows a single directory.
func (sw *SourceWatcher) AddPath(path string) error {
	clean, err := cleanPath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return sw.fs.Add(clean)
}

// AddRecursive follows root and every directory below it. Hidden and
// dependency directories are skipped.
func (sw *SourceWatcher) AddRecursive(root string) error {
	clean, err := cleanPath(root)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}
	return sw.addTree(clean)
}

func (sw *SourceWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return sw.fs.Add(path)
	})
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "_build"
}

func cleanPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	return abs, nil
}

// Start delivers events until ctx is done or Stop is called.
func (sw *SourceWatcher) Start(ctx context.Context) error {
	sw.mu.Lock()
	sw.ctx = ctx
	sw.mu.Unlock()
	go sw.loop(ctx)
	return nil
}

// Stop releases the watcher. Pending events are dropped.
func (sw *SourceWatcher) Stop() error {
	sw.stopOnce.Do(func() {
		sw.mu.Lock()
		if sw.timer != nil {
			sw.timer.Stop()
		}
		sw.pending = nil
		sw.mu.Unlock()
		sw.stopErr = sw.fs.Close()
	})
	return sw.stopErr
}

func (sw *SourceWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sw.fs.Events:
			if !ok {
				return
			}
			sw.handle(ctx, event)
		case err, ok := <-sw.fs.Errors:
			if !ok {
				return
			}
			sw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (sw *SourceWatcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skipDir(info.Name()) {
				if err := sw.addTree(event.Name); err != nil {
					sw.logger.Warn(ctx, err, "Cannot follow new directory", "path", event.Name)
				}
			}
			return
		}
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	for _, filter := range sw.filters {
		if !filter(event.Name) {
			return
		}
	}

	kind := EventTypeSaved
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		kind = EventTypeRemoved
	}
	sw.pending = append(sw.pending, ChangeEvent{Type: kind, Path: event.Name})

	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.delay, sw.flush)
}

func (sw *SourceWatcher) flush() {
	sw.mu.Lock()
	events := collapse(sw.pending)
	sw.pending = nil
	handlers := sw.handlers
	ctx := sw.ctx
	sw.mu.Unlock()

	if len(events) == 0 || ctx.Err() != nil {
		return
	}
	for _, handler := range handlers {
		if err := handler(events); err != nil {
			sw.logger.Warn(ctx, err, "File watcher handler error")
		}
	}
}

// collapse keeps the last event per path in first-seen order.
func collapse(pending []ChangeEvent) []ChangeEvent {
	index := make(map[string]int, len(pending))
	events := make([]ChangeEvent, 0, len(pending))
	for _, event := range pending {
		if i, ok := index[event.Path]; ok {
			events[i] = event
			continue
		}
		index[event.Path] = len(events)
		events = append(events, event)
	}
	return events
}

// Common file filters

// PatternFilter accepts files matching any of the patterns.
func PatternFilter(patterns ...*regexp.Regexp) FileFilter {
	return func(path string) bool {
		for _, p := range patterns {
			if p != nil && p.MatchString(path) {
				return true
			}
		}
		return false
	}
}

// NoEditorTempFilter rejects swap, backup and lock files editors leave
// next to the sources.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasPrefix(base, ".#"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return false
	}
	return true
}

// NoGitFilter rejects files inside a .git directory.
func NoGitFilter(path string) bool {
	return !strings.HasPrefix(path, ".git/") && !strings.Contains(path, "/.git/")
}
