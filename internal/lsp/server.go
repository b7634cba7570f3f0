package lsp

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"sync"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/picker"
	"github.com/conneroisu/sidepeek/internal/preview"
)

// Commands advertised to the client.
const (
	CommandBuild      = "sidepeek.build"
	CommandView       = "sidepeek.view"
	CommandDisconnect = "sidepeek.disconnect"
)

var (
	errMethodNotFound = &jsonrpc2.Error{
		Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"}
	errInvalidParams = &jsonrpc2.Error{
		Code: jsonrpc2.CodeInvalidParams, Message: "invalid params"}
)

type document struct {
	text  string
	dirty bool
}

type server struct {
	service *preview.Service
	opts    Options
	logger  logging.Logger

	mu   sync.Mutex
	conn *jsonrpc2.Conn
	docs map[lsp.DocumentURI]*document
}

func newServer(service *preview.Service, opts Options, logger logging.Logger) *server {
	return &server{
		service: service,
		opts:    opts,
		logger:  logger.WithComponent("lsp"),
		docs:    make(map[lsp.DocumentURI]*document),
	}
}

func (s *server) setConn(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *server) handler() jsonrpc2.Handler {
	return routingHandler(map[string]method{
		"initialize":               s.initialize,
		"textDocument/didOpen":     s.didOpen,
		"textDocument/didChange":   s.didChange,
		"textDocument/didSave":     s.didSave,
		"textDocument/didClose":    s.didClose,
		"workspace/executeCommand": s.executeCommand,
		"shutdown":                 s.shutdown,
		"exit":                     s.exit,

		// Required by the protocol.
		"initialized": noop,
		// Called by clients even when server doesn't advertise support.
		"workspace/didChangeWatchedFiles":  noop,
		"workspace/didChangeConfiguration": noop,
	}, map[string]bool{
		// Commands wait for builds and prompts, which need the read loop.
		"workspace/executeCommand": true,
	})
}

type method func(context.Context, jsonrpc2.JSONRPC2, json.RawMessage) (any, error)

func noop(_ context.Context, _ jsonrpc2.JSONRPC2, _ json.RawMessage) (any, error) {
	return nil, nil
}

// routingHandler dispatches by method name. Methods in async run on their
// own goroutine; the rest are handled in order on the read loop.
func routingHandler(methods map[string]method, async map[string]bool) jsonrpc2.Handler {
	h := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		fn, ok := methods[req.Method]
		if !ok {
			return nil, errMethodNotFound
		}
		params := json.RawMessage("null")
		if req.Params != nil {
			params = *req.Params
		}
		return fn(ctx, conn, params)
	})
	return handlerFunc(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
		if async[req.Method] {
			go h.Handle(ctx, conn, req)
			return
		}
		h.Handle(ctx, conn, req)
	})
}

type handlerFunc func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request)

func (f handlerFunc) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	f(ctx, conn, req)
}

// Handler implementations.

func (s *server) initialize(_ context.Context, _ jsonrpc2.JSONRPC2, _ json.RawMessage) (any, error) {
	return &lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{
				Options: &lsp.TextDocumentSyncOptions{
					OpenClose: true,
					Change:    lsp.TDSKFull,
					Save:      &lsp.SaveOptions{},
				},
			},
			ExecuteCommandProvider: &lsp.ExecuteCommandOptions{
				Commands: []string{CommandBuild, CommandView, CommandDisconnect},
			},
		},
	}, nil
}

func (s *server) didOpen(_ context.Context, _ jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.DidOpenTextDocumentParams
	if json.Unmarshal(rawParams, &params) != nil {
		return nil, errInvalidParams
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[params.TextDocument.URI] = &document{text: params.TextDocument.Text}
	return nil, nil
}

func (s *server) didChange(_ context.Context, _ jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.DidChangeTextDocumentParams
	if json.Unmarshal(rawParams, &params) != nil || len(params.ContentChanges) == 0 {
		return nil, errInvalidParams
	}

	// ContentChanges includes full text since the server is only advertised to
	// support that; see the initialize method.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[params.TextDocument.URI] = &document{text: params.ContentChanges[0].Text, dirty: true}
	return nil, nil
}

func (s *server) didSave(ctx context.Context, conn jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.DidSaveTextDocumentParams
	if json.Unmarshal(rawParams, &params) != nil {
		return nil, errInvalidParams
	}

	s.mu.Lock()
	if doc, ok := s.docs[params.TextDocument.URI]; ok {
		doc.dirty = false
	}
	s.mu.Unlock()

	if !s.opts.BuildOnSave {
		return nil, nil
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	ctx = notify.WithNotifier(ctx, windowNotifier{conn})
	execution, started, err := s.service.Rebuild(ctx, path)
	if err != nil {
		s.logger.Warn(ctx, err, "Build on save failed", "path", path)
	} else if started {
		s.logger.Debug(ctx, "Building on save", "path", path)
		s.publishWhenDone(ctx, conn, params.TextDocument.URI, path, execution)
	}
	return nil, nil
}

func (s *server) didClose(ctx context.Context, _ jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.DidCloseTextDocumentParams
	if json.Unmarshal(rawParams, &params) != nil {
		return nil, errInvalidParams
	}

	s.mu.Lock()
	delete(s.docs, params.TextDocument.URI)
	s.mu.Unlock()

	if path, ok := pathOf(params.TextDocument.URI); ok {
		s.service.Close(ctx, preview.NewFileDocument(path))
	}
	return nil, nil
}

// CommandResult is returned by build and view commands.
type CommandResult struct {
	Rule      string `json:"rule,omitempty"`
	Output    string `json:"output,omitempty"`
	Execution uint64 `json:"execution,omitempty"`
	Viewer    string `json:"viewer,omitempty"`
}

// executeCommand runs a preview command on the document whose URI is the
// first argument. Failures have already been shown to the user, so they
// yield a null result.
func (s *server) executeCommand(ctx context.Context, conn jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.ExecuteCommandParams
	if json.Unmarshal(rawParams, &params) != nil || len(params.Arguments) == 0 {
		return nil, errInvalidParams
	}
	raw, ok := params.Arguments[0].(string)
	if !ok {
		return nil, errInvalidParams
	}
	uri := lsp.DocumentURI(raw)
	path, ok := pathOf(uri)
	if !ok {
		return nil, errInvalidParams
	}

	ctx = notify.WithNotifier(ctx, windowNotifier{conn})
	ctx = picker.WithPicker(ctx, windowPicker{conn})
	doc, snapshot := s.document(uri, path)

	switch params.Command {
	case CommandBuild:
		execution, err := s.service.Build(ctx, doc)
		if err != nil {
			return s.failed(ctx, params.Command, path, err)
		}
		s.saved(uri, snapshot)
		s.publishWhenDone(ctx, conn, uri, path, execution)
		rule, _ := s.service.Resolver().Cache().Get(doc.Path())
		return &CommandResult{Rule: rule.Label, Output: rule.Output, Execution: execution.ID()}, nil

	case CommandView:
		v, err := s.service.View(ctx, doc)
		if err != nil {
			return s.failed(ctx, params.Command, path, err)
		}
		s.saved(uri, snapshot)
		return &CommandResult{Output: v.Path(), Viewer: v.Surface().ID()}, nil

	case CommandDisconnect:
		s.service.Disconnect(ctx, doc)
		return nil, nil

	default:
		return nil, errMethodNotFound
	}
}

func (s *server) failed(ctx context.Context, command, path string, err error) (any, error) {
	if errors.IsCancelled(err) {
		return nil, nil
	}
	s.logger.Warn(ctx, err, "Command failed", "command", command, "path", path)
	return nil, nil
}

// document returns the preview document for uri carrying unsaved edits,
// together with the tracked entry it was taken from. The entry is nil when
// the editor has no unsaved edits.
func (s *server) document(uri lsp.DocumentURI, path string) (*preview.FileDocument, *document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[uri]; ok && doc.dirty {
		return preview.NewUnsavedDocument(path, []byte(doc.text)), doc
	}
	return preview.NewFileDocument(path), nil
}

// saved marks snapshot as written. Edits received since snapshot was taken
// replace the entry and stay dirty.
func (s *server) saved(uri lsp.DocumentURI, snapshot *document) {
	if snapshot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[uri]; ok && doc == snapshot {
		doc.dirty = false
	}
}

func (s *server) shutdown(_ context.Context, _ jsonrpc2.JSONRPC2, _ json.RawMessage) (any, error) {
	return nil, nil
}

func (s *server) exit(_ context.Context, conn jsonrpc2.JSONRPC2, _ json.RawMessage) (any, error) {
	go conn.Close()
	return nil, nil
}

// pathOf converts a file URI to a local path.
func pathOf(uri lsp.DocumentURI) (string, bool) {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}
