package viewer

// ReloadDocument is posted to a loaded PDF shell to re-fetch the document.
const ReloadDocument = "reload-document"

// Surface displays HTML content for one viewer.
type Surface interface {
	// ID identifies the surface to its transport.
	ID() string
	SetHTML(html string)
	HTML() string
	PostMessage(msg any) error
	// Reveal brings the surface to the foreground.
	Reveal() error
	// AsWebviewURI maps a local path to a URI the surface can load.
	AsWebviewURI(localPath string) string
	// ExtensionURI is the URI of the embedded viewer assets.
	ExtensionURI() string
	// CSPSource is the content security policy source for surface URIs.
	CSPSource() string
	// OnDispose registers f to run once when the surface goes away.
	OnDispose(f func())
	Dispose()
}

// SurfaceFactory creates surfaces. roots are the local directories the
// surface may load files from.
type SurfaceFactory interface {
	Create(title string, roots ...string) (Surface, error)
}
