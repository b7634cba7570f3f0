package server

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/viewer"
)

// Frame is pushed to the browser tabs showing a surface.
type Frame struct {
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const (
	FrameHTML    = "html"
	FrameMessage = "message"
	FrameReveal  = "reveal"
	FrameDispose = "dispose"
)

// Surfaces creates browser-backed viewer surfaces and tracks the live ones.
type Surfaces struct {
	logger logging.Logger
	opener Opener

	mu       sync.RWMutex
	base     string
	surfaces map[string]*Surface
}

// NewSurfaces returns a factory whose surfaces are addressed below base,
// for example "http://localhost:7337". opener shows new surfaces and may be
// nil.
func NewSurfaces(base string, opener Opener, logger logging.Logger) *Surfaces {
	return &Surfaces{
		logger:   logger.WithComponent("surfaces"),
		opener:   opener,
		base:     strings.TrimSuffix(base, "/"),
		surfaces: make(map[string]*Surface),
	}
}

// SetBase changes the address new and existing surfaces report.
func (f *Surfaces) SetBase(base string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.base = strings.TrimSuffix(base, "/")
}

// Base returns the address surfaces are served from.
func (f *Surfaces) Base() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base
}

// Create implements viewer.SurfaceFactory. The surface's page is opened
// right away when an opener is set.
func (f *Surfaces) Create(title string, roots ...string) (viewer.Surface, error) {
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		r, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.WrapIO(err, "SURFACE", "invalid surface root").WithPath(root)
		}
		abs = append(abs, r)
	}

	s := &Surface{
		id:      uuid.NewString(),
		title:   title,
		roots:   abs,
		factory: f,
		clients: make(map[*Client]struct{}),
	}

	f.mu.Lock()
	f.surfaces[s.id] = s
	f.mu.Unlock()

	f.logger.Debug(context.Background(), "Surface created", "id", s.id, "title", title)
	f.open(s.PageURL())
	return s, nil
}

// Get returns the live surface with id.
func (f *Surfaces) Get(id string) (*Surface, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.surfaces[id]
	return s, ok
}

// List returns the live surfaces ordered by title.
func (f *Surfaces) List() []*Surface {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := make([]*Surface, 0, len(f.surfaces))
	for _, s := range f.surfaces {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].title < list[j].title })
	return list
}

func (f *Surfaces) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.surfaces, id)
}

func (f *Surfaces) open(url string) {
	if f.opener != nil {
		f.opener(url)
	}
}

// Surface is a viewer surface shown in browser tabs through a host page
// and a websocket per tab.
type Surface struct {
	id      string
	title   string
	roots   []string
	factory *Surfaces

	mu        sync.Mutex
	html      string
	version   int
	disposed  bool
	onDispose []func()
	clients   map[*Client]struct{}
}

func (s *Surface) ID() string { return s.id }

// Title returns the title shown on the host page.
func (s *Surface) Title() string { return s.title }

// PageURL returns the address of the host page.
func (s *Surface) PageURL() string {
	return s.factory.Base() + "/viewers/" + s.id
}

func (s *Surface) SetHTML(html string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.html = html
	s.version++
	frame := Frame{Type: FrameHTML, Version: s.version}
	s.mu.Unlock()

	s.push(frame)
}

func (s *Surface) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

// Version returns how often the content was set.
func (s *Surface) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// PostMessage forwards msg to the document inside the host page.
func (s *Surface) PostMessage(msg any) error {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return errors.NewInternalError("SURFACE", "surface is disposed", nil)
	}
	s.push(Frame{Type: FrameMessage, Data: msg})
	return nil
}

// Reveal focuses an attached tab, or opens the host page when no tab is
// attached.
func (s *Surface) Reveal() error {
	s.mu.Lock()
	disposed, attached := s.disposed, len(s.clients) > 0
	s.mu.Unlock()
	if disposed {
		return errors.NewInternalError("SURFACE", "surface is disposed", nil)
	}
	if attached {
		s.push(Frame{Type: FrameReveal})
		return nil
	}
	s.factory.open(s.PageURL())
	return nil
}

// AsWebviewURI maps a path inside one of the surface roots to the address
// it is served from. Paths outside every root map to an address that is
// never served.
func (s *Surface) AsWebviewURI(localPath string) string {
	base := s.PageURL() + "/files/"
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return base + "-"
	}
	for i, root := range s.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		uri := base + strconv.Itoa(i)
		if rel != "." {
			uri += "/" + escapePath(filepath.ToSlash(rel))
		}
		return uri
	}
	return base + "-"
}

// ExtensionURI is where the embedded viewer assets are served.
func (s *Surface) ExtensionURI() string {
	return s.factory.Base() + "/static"
}

// CSPSource is the origin every surface address shares.
func (s *Surface) CSPSource() string {
	base := s.factory.Base()
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return "'self'"
}

func (s *Surface) OnDispose(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDispose = append(s.onDispose, f)
}

// Dispose closes every attached tab and runs the dispose callbacks once.
func (s *Surface) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	callbacks := s.onDispose
	s.mu.Unlock()

	s.push(Frame{Type: FrameDispose})
	s.detachAll()
	s.factory.remove(s.id)

	for _, f := range callbacks {
		f()
	}
}

// Disposed reports whether the surface went away.
func (s *Surface) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Resolve maps a files address back to a local path. root is the root
// index and rel the slash separated path below it.
func (s *Surface) Resolve(root, rel string) (string, bool) {
	i, err := strconv.Atoi(root)
	if err != nil || i < 0 || i >= len(s.roots) {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash("/" + rel))
	path := filepath.Join(s.roots[i], clean)
	if path != s.roots[i] && !strings.HasPrefix(path, s.roots[i]+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

// Clients returns the number of attached tabs.
func (s *Surface) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Surface) attach(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Surface) detach(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		c.close()
	}
}

func (s *Surface) detachAll() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*Client]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// push sends frame to every attached tab. Tabs that cannot keep up are
// dropped.
func (s *Surface) push(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.factory.logger.Warn(context.Background(), err, "Could not encode frame", "type", frame.Type)
		return
	}

	s.mu.Lock()
	var slow []*Client
	for c := range s.clients {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(s.clients, c)
	}
	s.mu.Unlock()

	for _, c := range slow {
		c.close()
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
