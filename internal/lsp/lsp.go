// Package lsp exposes the preview commands to editors through the Language
// Server Protocol.
package lsp

import (
	"context"
	"io"
	"os"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/preview"
)

// Options configures the language server.
type Options struct {
	// BuildOnSave rebuilds saved documents that already have a rule.
	BuildOnSave bool
}

// Serve runs the language server on rwc until the client disconnects or
// ctx is done.
func Serve(ctx context.Context, rwc io.ReadWriteCloser, service *preview.Service, opts Options, logger logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newServer(service, opts, logger)
	conn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		s.handler())
	s.setConn(conn)

	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		conn.Close()
	}
	return nil
}

// Stdio is the transport used when an editor starts the server.
func Stdio() io.ReadWriteCloser {
	return transport{os.Stdin, os.Stdout}
}

type transport struct{ in, out *os.File }

func (c transport) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c transport) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c transport) Close() error {
	if err := c.in.Close(); err != nil {
		c.out.Close()
		return err
	}
	return c.out.Close()
}
