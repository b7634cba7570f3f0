//go:build integration

package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/picker"
	"github.com/conneroisu/sidepeek/internal/preview"
	"github.com/conneroisu/sidepeek/internal/rules"
	"github.com/conneroisu/sidepeek/internal/server"
	"github.com/conneroisu/sidepeek/internal/store"
	"github.com/conneroisu/sidepeek/internal/tasks"
	"github.com/conneroisu/sidepeek/internal/testutils"
	"github.com/conneroisu/sidepeek/internal/viewer"
	"github.com/conneroisu/sidepeek/internal/watcher"
)

type stack struct {
	url     string
	docs    string
	service *preview.Service
	opened  chan string
}

// newStack wires the daemon the way the serve command does, with real file
// watching, a bbolt choice store and a listening HTTP server.
func newStack(t *testing.T) *stack {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tasks run through /bin/sh")
	}

	project := testutils.CreateTempProject(t)
	cfg := testutils.CreateTestConfig(project, "html")
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	logger := logging.NewNop()
	notes := &notify.Collector{}

	choices, err := store.Open(filepath.Join(t.TempDir(), "choices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { choices.Close() })

	s := &stack{docs: filepath.Join(project, "docs"), opened: make(chan string, 8)}
	surfaces := server.NewSurfaces("", func(url string) { s.opened <- url }, logger)

	matcher := rules.NewMatcher(cfg.Rules, tasks.NewConfigProvider(cfg.Tasks, project), notes, logger)
	resolver := rules.NewResolver(matcher, rules.NewCache(choices, logger), picker.First{}, notes, logger)
	registry, err := viewer.NewRegistry(surfaces, watcher.Watcher(cfg.Viewer.Debounce, logger), logger)
	require.NoError(t, err)

	s.service = preview.NewService(preview.Dependencies{
		Resolver: resolver,
		Runner:   tasks.NewRunner(logger),
		Registry: registry,
		Notifier: notes,
		Logger:   logger,
	})
	srv := server.New(cfg, s.service, surfaces, notes, logger)
	ln, err := srv.Listen()
	require.NoError(t, err)
	s.url = srv.URL()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-served
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = s.service.Shutdown(shutdownCtx)
	})
	return s
}

func (s *stack) post(t *testing.T, path string, body server.DocumentRequest, v any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.url+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestViewRebuildAndLiveReload(t *testing.T) {
	s := newStack(t)
	source := testutils.CreateTestSource(t, s.docs, "paper.md", "<p>first</p>")

	var view server.ViewerResponse
	require.Equal(t, http.StatusOK, s.post(t, "/api/view", server.DocumentRequest{Path: source}, &view))
	assert.Equal(t, filepath.Join(s.docs, "out", "paper.html"), view.Path)

	select {
	case url := <-s.opened:
		assert.Equal(t, view.URL, url)
	case <-time.After(5 * time.Second):
		t.Fatal("viewer page was not opened")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(view.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{s.url}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	first := readFrame(t, ctx, conn)
	assert.Equal(t, server.FrameHTML, first.Type)

	require.NoError(t, os.WriteFile(source, []byte("<p>second</p>"), 0o644))
	var build server.BuildResponse
	require.Equal(t, http.StatusOK, s.post(t, "/api/build", server.DocumentRequest{Path: source, Wait: true}, &build))
	require.NotNil(t, build.Result)
	assert.True(t, build.Result.Success)

	// The output watcher re-renders the viewer after the build.
	for {
		frame := readFrame(t, ctx, conn)
		if frame.Type == server.FrameHTML && frame.Version > first.Version {
			break
		}
	}
	resp, err := http.Get(view.URL + "/content")
	require.NoError(t, err)
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(content), "second")
}

func TestDisconnectForgetsRule(t *testing.T) {
	s := newStack(t)
	source := testutils.CreateTestSource(t, s.docs, "notes.md", "<p>x</p>")

	var build server.BuildResponse
	require.Equal(t, http.StatusOK, s.post(t, "/api/build", server.DocumentRequest{Path: source, Wait: true}, &build))
	assert.Equal(t, "copy: html", build.Rule)

	_, ok := s.service.Resolver().Cache().Get(source)
	assert.True(t, ok)

	s.post(t, "/api/disconnect", server.DocumentRequest{Path: source}, nil)
	_, ok = s.service.Resolver().Cache().Get(source)
	assert.False(t, ok)
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) server.Frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame server.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}
