package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/sidepeek/internal/logging"
)

// Watch follows one file. Callbacks run on the watch goroutine, one at a
// time.
type Watch interface {
	OnChange(func())
	OnDelete(func())
	Dispose()
}

// WatchFunc starts a Watch for path.
type WatchFunc func(path string) (Watch, error)

// FileWatch follows a single file by watching its parent directory. Build
// tools often replace outputs by removing and recreating them, so after each
// quiet period the file is stat'ed: present means changed, absent means
// deleted.
type FileWatch struct {
	path     string
	delay    time.Duration
	watcher  *fsnotify.Watcher
	logger   logging.Logger
	mu       sync.Mutex
	onChange func()
	onDelete func()
	timer    *time.Timer
	fire     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// WatchFile starts watching path. The parent directory must exist.
func WatchFile(path string, delay time.Duration, logger logging.Logger) (*FileWatch, error) {
	abs, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	fw := &FileWatch{
		path:    abs,
		delay:   delay,
		watcher: w,
		logger:  logger.WithComponent("watcher").With("path", abs),
		fire:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

// Watcher returns a WatchFunc using the given debounce delay.
func Watcher(delay time.Duration, logger logging.Logger) WatchFunc {
	return func(path string) (Watch, error) {
		return WatchFile(path, delay, logger)
	}
}

// Path returns the absolute path being watched.
func (fw *FileWatch) Path() string { return fw.path }

// OnChange sets the callback for a changed file.
func (fw *FileWatch) OnChange(f func()) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.onChange = f
}

// OnDelete sets the callback for a removed file.
func (fw *FileWatch) OnDelete(f func()) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.onDelete = f
}

// Dispose stops watching. It is safe to call more than once and from a
// callback.
func (fw *FileWatch) Dispose() {
	fw.once.Do(func() {
		fw.mu.Lock()
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()
		close(fw.done)
		fw.watcher.Close()
	})
}

func (fw *FileWatch) loop() {
	ctx := context.Background()
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == fw.path {
				fw.schedule()
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watch error")
		case <-fw.fire:
			fw.settle(ctx)
		}
	}
}

func (fw *FileWatch) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.delay, func() {
		select {
		case fw.fire <- struct{}{}:
		default:
		}
	})
}

func (fw *FileWatch) settle(ctx context.Context) {
	select {
	case <-fw.done:
		return
	default:
	}

	_, err := os.Stat(fw.path)

	fw.mu.Lock()
	onChange, onDelete := fw.onChange, fw.onDelete
	fw.mu.Unlock()

	if err == nil {
		fw.logger.Debug(ctx, "Watched file changed")
		if onChange != nil {
			onChange()
		}
		return
	}
	if os.IsNotExist(err) {
		fw.logger.Debug(ctx, "Watched file deleted")
		if onDelete != nil {
			onDelete()
		}
		return
	}
	fw.logger.Warn(ctx, err, "Could not stat watched file")
}
