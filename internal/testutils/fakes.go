package testutils

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/conneroisu/sidepeek/internal/viewer"
	"github.com/conneroisu/sidepeek/internal/watcher"
)

// FakeSurface records everything a viewer does to it.
type FakeSurface struct {
	id    string
	title string
	roots []string

	mu        sync.Mutex
	html      string
	sets      int
	messages  []any
	reveals   int
	disposed  bool
	onDispose []func()
}

func (s *FakeSurface) ID() string { return s.id }

// Title returns the title the surface was created with.
func (s *FakeSurface) Title() string { return s.title }

// Roots returns the directories the surface may load from.
func (s *FakeSurface) Roots() []string { return s.roots }

func (s *FakeSurface) SetHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
	s.sets++
}

func (s *FakeSurface) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

// Sets returns how often SetHTML was called.
func (s *FakeSurface) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *FakeSurface) PostMessage(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return errors.New("surface disposed")
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns the posted messages.
func (s *FakeSurface) Messages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.messages...)
}

func (s *FakeSurface) Reveal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reveals++
	return nil
}

// Reveals returns how often the surface was revealed.
func (s *FakeSurface) Reveals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reveals
}

func (s *FakeSurface) AsWebviewURI(localPath string) string {
	return "surface://" + s.id + filepath.ToSlash(localPath)
}

func (s *FakeSurface) ExtensionURI() string { return "surface://" + s.id + "/assets" }

func (s *FakeSurface) CSPSource() string { return "surface:" }

func (s *FakeSurface) OnDispose(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDispose = append(s.onDispose, f)
}

func (s *FakeSurface) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	callbacks := s.onDispose
	s.mu.Unlock()

	for _, f := range callbacks {
		f()
	}
}

// Disposed reports whether Dispose ran.
func (s *FakeSurface) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// FakeSurfaceFactory creates FakeSurfaces.
type FakeSurfaceFactory struct {
	mu       sync.Mutex
	surfaces []*FakeSurface
	// Err makes Create fail when set.
	Err error
}

func (f *FakeSurfaceFactory) Create(title string, roots ...string) (viewer.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s := &FakeSurface{id: fmt.Sprintf("s%d", len(f.surfaces)+1), title: title, roots: roots}
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

// Surfaces returns every surface created so far.
func (f *FakeSurfaceFactory) Surfaces() []*FakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSurface(nil), f.surfaces...)
}

// Last returns the most recently created surface.
func (f *FakeSurfaceFactory) Last() *FakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.surfaces) == 0 {
		return nil
	}
	return f.surfaces[len(f.surfaces)-1]
}

// FakeWatch is a watch driven by the test.
type FakeWatch struct {
	path string

	mu       sync.Mutex
	onChange func()
	onDelete func()
	disposed bool
}

func (w *FakeWatch) OnChange(f func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = f
}

func (w *FakeWatch) OnDelete(f func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDelete = f
}

func (w *FakeWatch) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposed = true
}

// Disposed reports whether Dispose ran.
func (w *FakeWatch) Disposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disposed
}

// Change fires the change callback unless the watch is disposed.
func (w *FakeWatch) Change() {
	w.mu.Lock()
	f, disposed := w.onChange, w.disposed
	w.mu.Unlock()
	if f != nil && !disposed {
		f()
	}
}

// Delete fires the delete callback unless the watch is disposed.
func (w *FakeWatch) Delete() {
	w.mu.Lock()
	f, disposed := w.onDelete, w.disposed
	w.mu.Unlock()
	if f != nil && !disposed {
		f()
	}
}

// FakeWatcher hands out FakeWatches.
type FakeWatcher struct {
	mu      sync.Mutex
	watches map[string][]*FakeWatch
	// Err makes new watches fail when set.
	Err error
}

// Func returns a WatchFunc backed by w.
func (w *FakeWatcher) Func() watcher.WatchFunc {
	return func(path string) (watcher.Watch, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.Err != nil {
			return nil, w.Err
		}
		if w.watches == nil {
			w.watches = make(map[string][]*FakeWatch)
		}
		fw := &FakeWatch{path: path}
		w.watches[path] = append(w.watches[path], fw)
		return fw, nil
	}
}

// Latest returns the newest watch for path.
func (w *FakeWatcher) Latest(path string) *FakeWatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.watches[path]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Count returns how many watches were started for path.
func (w *FakeWatcher) Count(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches[path])
}
