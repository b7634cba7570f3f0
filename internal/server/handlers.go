package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/net/html"

	sperrors "github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/picker"
	"github.com/conneroisu/sidepeek/internal/preview"
	"github.com/conneroisu/sidepeek/internal/rules"
	"github.com/conneroisu/sidepeek/internal/substitute"
	"github.com/conneroisu/sidepeek/internal/tasks"
	"github.com/conneroisu/sidepeek/internal/version"
	"github.com/conneroisu/sidepeek/internal/viewer"
	"github.com/conneroisu/sidepeek/internal/viewer/assets"
)

const maxRequestBody = 8 << 20

// DocumentRequest names a source document and optionally carries its
// unsaved content and the rule to pick when several match.
type DocumentRequest struct {
	Path    string  `json:"path"`
	Content *string `json:"content,omitempty"`
	Rule    string  `json:"rule,omitempty"`
	// Wait makes a build request return after the task ends.
	Wait bool `json:"wait,omitempty"`
}

// Validate implements validation.Validatable.
func (r DocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	)
}

func (r DocumentRequest) document() *preview.FileDocument {
	if r.Content != nil {
		return preview.NewUnsavedDocument(r.Path, []byte(*r.Content))
	}
	return preview.NewFileDocument(r.Path)
}

// RuleResponse describes one candidate rule.
type RuleResponse struct {
	Label    string `json:"label"`
	Output   string `json:"output"`
	Command  string `json:"command"`
	Selected bool   `json:"selected,omitempty"`
}

// ResultResponse describes a finished build.
type ResultResponse struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`

	Problems []sperrors.Problem `json:"problems,omitempty"`
}

// BuildResponse answers a build request.
type BuildResponse struct {
	Execution uint64           `json:"execution"`
	Rule      string           `json:"rule"`
	Output    string           `json:"output"`
	Result    *ResultResponse  `json:"result,omitempty"`
	Messages  []notify.Message `json:"messages,omitempty"`
}

// ViewerResponse describes a live viewer.
type ViewerResponse struct {
	ID       string           `json:"id"`
	Path     string           `json:"path"`
	Kind     string           `json:"kind"`
	URL      string           `json:"url"`
	Messages []notify.Message `json:"messages,omitempty"`
}

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error      string           `json:"error"`
	Type       string           `json:"type,omitempty"`
	Code       string           `json:"code,omitempty"`
	Candidates []string         `json:"candidates,omitempty"`
	Messages   []notify.Message `json:"messages,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an operation error to its HTTP status.
func statusOf(err error) int {
	switch {
	case sperrors.IsCancelled(err):
		return http.StatusNoContent
	case sperrors.Is(err, sperrors.ErrNoRule):
		return http.StatusNotFound
	case sperrors.Is(err, sperrors.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case sperrors.Is(err, sperrors.ErrSelectionRequired):
		return http.StatusConflict
	case sperrors.Is(err, context.Canceled), sperrors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	switch sperrors.TypeOf(err) {
	case sperrors.ErrorTypeConfig, sperrors.ErrorTypeTask:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, notes *notify.Collector) {
	status := statusOf(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "path", r.URL.Path)
	}

	body := ErrorResponse{
		Error:      sperrors.UserMessage(err),
		Type:       string(sperrors.TypeOf(err)),
		Candidates: sperrors.Candidates(err),
	}
	var se *sperrors.SidepeekError
	if sperrors.As(err, &se) {
		body.Code = se.Code
	}
	if notes != nil {
		body.Messages = notes.Messages()
	}
	writeJSON(w, status, body)
}

// decode reads and validates a document request.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (DocumentRequest, bool) {
	var req DocumentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return req, false
	}
	return req, true
}

// requestContext attaches the request's picker and a collector that gathers
// notifications for the response.
func (s *Server) requestContext(r *http.Request, rule string) (context.Context, *notify.Collector) {
	notes := &notify.Collector{}
	ctx := notify.WithNotifier(r.Context(), notify.Multi{notes, s.notifier})

	var p picker.Picker = picker.Unavailable{}
	if rule != "" {
		p = picker.Fixed(rule)
	}
	return picker.WithPicker(ctx, p), notes
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.GetVersion(),
		"viewers": s.service.Registry().Len(),
		"rules":   len(s.service.Resolver().Matcher().Definitions()),
	})
}

// handleRules lists the rules matching ?path= without selecting one.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "path is required"})
		return
	}
	path = preview.Abs(path)

	ctx, notes := s.requestContext(r, "")
	candidates, err := s.service.Resolver().Matcher().Match(ctx, path)
	if err != nil {
		s.writeError(w, r, err, notes)
		return
	}

	selected, hasSelected := s.service.Resolver().Cache().Get(path)
	out := make([]RuleResponse, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, RuleResponse{
			Label:    c.Label,
			Output:   c.Output,
			Command:  commandLine(c),
			Selected: hasSelected && selected.Label == c.Label,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "rules": out, "messages": notes.Messages()})
}

func commandLine(rule rules.Rule) string {
	if shell := rule.Task.Shell(); shell != nil {
		return shell.CommandLine
	}
	return ""
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx, notes := s.requestContext(r, req.Rule)

	doc := req.document()
	rule, err := s.service.Rule(ctx, doc.Path())
	if err != nil {
		s.writeError(w, r, err, notes)
		return
	}
	execution, err := s.service.Build(ctx, doc)
	if err != nil {
		s.writeError(w, r, err, notes)
		return
	}

	resp := BuildResponse{Execution: execution.ID(), Rule: rule.Label, Output: rule.Output}
	if !req.Wait {
		resp.Messages = notes.Messages()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	result, err := execution.Wait(ctx)
	if err != nil {
		s.writeError(w, r, err, notes)
		return
	}
	resp.Result = resultResponse(result)
	resp.Messages = notes.Messages()
	writeJSON(w, http.StatusOK, resp)
}

func resultResponse(result tasks.Result) *ResultResponse {
	return &ResultResponse{
		Success:    result.Success(),
		ExitCode:   result.ExitCode,
		DurationMS: result.Duration.Milliseconds(),
		Output:     result.Output,
		Problems:   result.Problems,
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx, notes := s.requestContext(r, req.Rule)

	v, err := s.service.View(ctx, req.document())
	if err != nil {
		s.writeError(w, r, err, notes)
		return
	}
	resp := s.viewerResponse(v)
	resp.Messages = notes.Messages()
	writeJSON(w, http.StatusOK, resp)
}

// handleOpen shows an existing output without building.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx, notes := s.requestContext(r, "")

	v, err := s.service.Open(ctx, req.Path)
	if err != nil {
		s.writeError(w, r, err, notes)
		return
	}
	resp := s.viewerResponse(v)
	resp.Messages = notes.Messages()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	s.service.Disconnect(r.Context(), req.document())
	w.WriteHeader(http.StatusNoContent)
}

// handleClose is called when an editor closes a document.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	s.service.Close(r.Context(), req.document())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) viewerResponse(v *viewer.Viewer) ViewerResponse {
	resp := ViewerResponse{
		ID:   v.Surface().ID(),
		Path: v.Path(),
		Kind: v.Kind().String(),
	}
	if surface, ok := s.surfaces.Get(resp.ID); ok {
		resp.URL = surface.PageURL()
	}
	return resp
}

func (s *Server) handleViewers(w http.ResponseWriter, r *http.Request) {
	infos := s.service.Registry().List()
	out := make([]ViewerResponse, 0, len(infos))
	for _, info := range infos {
		resp := ViewerResponse{ID: info.ID, Path: info.Path, Kind: info.Kind}
		if surface, ok := s.surfaces.Get(info.ID); ok {
			resp.URL = surface.PageURL()
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"viewers": out})
}

// handleDisposeViewer is the user closing a viewer.
func (s *Server) handleDisposeViewer(w http.ResponseWriter, r *http.Request) {
	surface, ok := s.surfaces.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "viewer not found"})
		return
	}
	surface.Dispose()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHostPage(w http.ResponseWriter, r *http.Request) {
	surface, ok := s.surfaces.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Viewer not found", http.StatusNotFound)
		return
	}
	page := substitute.Substitute(hostPage, substitute.Of(
		"id", surface.ID(),
		"title", html.EscapeString(surface.Title()),
	))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	surface, ok := s.surfaces.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Viewer not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(surface.HTML()))
}

// handleFile serves a file below one of the surface's roots.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	surface, ok := s.surfaces.Get(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	path, ok := surface.Resolve(chi.URLParam(r, "root"), chi.URLParam(r, "*"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func staticHandler() http.Handler {
	return http.FileServer(http.FS(assets.FS))
}
