// Package viewer keeps one live display surface per output file and
// re-renders it whenever the file changes on disk.
package viewer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/substitute"
	"github.com/conneroisu/sidepeek/internal/viewer/assets"
	"github.com/conneroisu/sidepeek/internal/watcher"
)

// Kind is how an output is displayed.
type Kind int

const (
	KindUnsupported Kind = iota
	KindHTML
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindPDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// KindOf classifies path by extension.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return KindHTML
	case ".pdf":
		return KindPDF
	default:
		return KindUnsupported
	}
}

// Viewer is a live surface bound to one output file.
type Viewer struct {
	path    string
	kind    Kind
	surface Surface
	watch   watcher.Watch
	shell   string
	logger  logging.Logger

	mu       sync.Mutex
	loaded   bool
	disposed bool
	renders  int
}

// Path returns the output file shown.
func (v *Viewer) Path() string { return v.path }

// Kind returns how the output is displayed.
func (v *Viewer) Kind() Kind { return v.kind }

// Surface returns the display surface.
func (v *Viewer) Surface() Surface { return v.surface }

// Renders returns how many renders have completed.
func (v *Viewer) Renders() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.renders
}

// Render refreshes the surface from the file. Renders of one viewer never
// overlap.
func (v *Viewer) Render(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return
	}

	switch v.kind {
	case KindHTML:
		data, err := os.ReadFile(v.path)
		if err != nil {
			v.logger.Warn(ctx, err, "Could not read output")
			return
		}
		base := strings.TrimSuffix(v.surface.AsWebviewURI(filepath.Dir(v.path)), "/") + "/"
		v.surface.SetHTML(withBase(data, base))
	default:
		if !v.loaded {
			v.surface.SetHTML(substitute.Substitute(v.shell, substitute.Of(
				"extensionUri", v.surface.ExtensionURI(),
				"documentUri", v.surface.AsWebviewURI(v.path),
				"cspSource", v.surface.CSPSource(),
			)))
			v.loaded = true
		} else if err := v.surface.PostMessage(ReloadDocument); err != nil {
			v.logger.Warn(ctx, err, "Could not signal reload")
			return
		}
	}
	v.renders++
	v.logger.Debug(ctx, "Rendered", "renders", v.renders)
}

func (v *Viewer) markDisposed() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disposed = true
}

// Info summarizes a live viewer.
type Info struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Registry owns every live viewer, keyed by absolute output path.
type Registry struct {
	factory SurfaceFactory
	watch   watcher.WatchFunc
	shell   string
	logger  logging.Logger

	mu      sync.Mutex
	viewers map[string]*Viewer
}

// NewRegistry returns an empty registry. The PDF shell is loaded from the
// embedded assets.
func NewRegistry(factory SurfaceFactory, watch watcher.WatchFunc, logger logging.Logger) (*Registry, error) {
	shell, err := fs.ReadFile(assets.FS, assets.Shell)
	if err != nil {
		return nil, errors.NewInternalError("ASSETS", "viewer shell missing", err)
	}
	return &Registry{
		factory: factory,
		watch:   watch,
		shell:   string(shell),
		logger:  logger.WithComponent("viewer"),
		viewers: make(map[string]*Viewer),
	}, nil
}

func key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Open shows path. A live viewer is revealed as is; otherwise a surface is
// created, the file is watched and the first render happens.
func (r *Registry) Open(ctx context.Context, path string) (*Viewer, error) {
	path = key(path)

	r.mu.Lock()
	if v, ok := r.viewers[path]; ok {
		r.mu.Unlock()
		if err := v.surface.Reveal(); err != nil {
			r.logger.Warn(ctx, err, "Could not reveal viewer", "path", path)
		}
		return v, nil
	}

	kind := KindOf(path)
	if kind == KindUnsupported {
		r.mu.Unlock()
		err := errors.NewUnsupportedFormatError(path)
		r.logger.Error(ctx, err, "Cannot view output", "path", path)
		return nil, err
	}

	surface, err := r.factory.Create("Preview "+filepath.Base(path), filepath.Dir(path))
	if err != nil {
		r.mu.Unlock()
		return nil, errors.Wrap(err, errors.ErrorTypeViewer, "SURFACE", "could not create viewer").WithPath(path)
	}

	watch, err := r.watch(path)
	if err != nil {
		r.mu.Unlock()
		surface.Dispose()
		return nil, errors.WrapIO(err, "WATCH", "could not watch output").WithPath(path)
	}

	v := &Viewer{
		path:    path,
		kind:    kind,
		surface: surface,
		watch:   watch,
		shell:   r.shell,
		logger:  r.logger.With("path", path, "surface", surface.ID()),
	}
	// Callbacks are in place before the viewer is visible to Get.
	surface.OnDispose(func() {
		v.markDisposed()
		watch.Dispose()
		r.remove(path, v)
		r.logger.Debug(context.Background(), "Viewer disposed", "path", path)
	})
	watch.OnChange(func() { v.Render(context.Background()) })
	watch.OnDelete(surface.Dispose)
	r.viewers[path] = v
	r.mu.Unlock()

	r.logger.Info(ctx, "Viewer opened", "path", path, "kind", kind.String())
	v.Render(ctx)
	return v, nil
}

func (r *Registry) remove(path string, v *Viewer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.viewers[path] == v {
		delete(r.viewers, path)
	}
}

// Get returns the live viewer for path.
func (r *Registry) Get(path string) (*Viewer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[key(path)]
	return v, ok
}

// Reveal brings the viewer for path to the foreground and reports whether
// one is live.
func (r *Registry) Reveal(ctx context.Context, path string) bool {
	v, ok := r.Get(path)
	if !ok {
		return false
	}
	if err := v.surface.Reveal(); err != nil {
		r.logger.Warn(ctx, err, "Could not reveal viewer", "path", v.path)
	}
	return true
}

// List describes every live viewer ordered by path.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]Info, 0, len(r.viewers))
	for _, v := range r.viewers {
		infos = append(infos, Info{Path: v.path, Kind: v.kind.String(), ID: v.surface.ID()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

// Len returns the number of live viewers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// Close disposes the viewer for path and reports whether one was live.
func (r *Registry) Close(path string) bool {
	v, ok := r.Get(path)
	if ok {
		v.surface.Dispose()
	}
	return ok
}

// DisposeAll disposes every live viewer.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	viewers := make([]*Viewer, 0, len(r.viewers))
	for _, v := range r.viewers {
		viewers = append(viewers, v)
	}
	r.mu.Unlock()

	for _, v := range viewers {
		v.surface.Dispose()
	}
}
