// Package server exposes the preview service over HTTP and shows viewers in
// browser tabs.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/sidepeek/internal/config"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/preview"
)

//go:embed host.html
var hostPage string

const shutdownTimeout = 10 * time.Second

// Server serves the control API and the viewer pages.
type Server struct {
	cfg      *config.Config
	service  *preview.Service
	surfaces *Surfaces
	notifier notify.Notifier
	logger   logging.Logger
	router   chi.Router

	serverMutex sync.Mutex
	httpServer  *http.Server
}

// New creates a server for service whose viewers are created by surfaces.
// notifier receives messages for requests in addition to the response.
func New(cfg *config.Config, service *preview.Service, surfaces *Surfaces, notifier notify.Notifier, logger logging.Logger) *Server {
	if notifier == nil {
		notifier = notify.Discard
	}
	s := &Server{
		cfg:      cfg,
		service:  service,
		surfaces: surfaces,
		notifier: notifier,
		logger:   logger.WithComponent("server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/rules", s.handleRules)
		builds := limitBuilds(s.cfg.Server.BuildLimit)
		r.With(builds).Post("/build", s.handleBuild)
		r.With(builds).Post("/view", s.handleView)
		r.Post("/open", s.handleOpen)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/close", s.handleClose)
		r.Get("/viewers", s.handleViewers)
		r.Delete("/viewers/{id}", s.handleDisposeViewer)
	})

	r.Route("/viewers/{id}", func(r chi.Router) {
		r.Get("/", s.handleHostPage)
		r.Get("/ws", s.handleWebSocket)
		r.With(noStore).Get("/content", s.handleContent)
		r.With(noStore).Get("/files/{root}", s.handleFile)
		r.With(noStore).Get("/files/{root}/*", s.handleFile)
	})

	r.Handle("/static/*", http.StripPrefix("/static/", staticHandler()))
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the configured address. Port 0 picks a free port. The
// surfaces are addressed at the bound address afterwards.
func (s *Server) Listen() (net.Listener, error) {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	host := s.cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	port := ln.Addr().(*net.TCPAddr).Port
	s.surfaces.SetBase("http://" + net.JoinHostPort(host, strconv.Itoa(port)))
	return ln, nil
}

// URL returns the address the server is reachable at.
func (s *Server) URL() string {
	return s.surfaces.Base()
}

// Serve serves on ln until ctx is done and then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Serving", "url", s.URL())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(shutdownCtx, err, "HTTP server shutdown error")
		return err
	}
	s.logger.Info(shutdownCtx, "Server stopped")
	return nil
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
