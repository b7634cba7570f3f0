package lsp

import (
	"context"
	"os"
	"path/filepath"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/tasks"
)

const diagnosticSource = "sidepeek"

// publishWhenDone reports the problems of execution against uri once it
// ends. Executions killed by shutdown publish nothing.
func (s *server) publishWhenDone(ctx context.Context, conn jsonrpc2.JSONRPC2, uri lsp.DocumentURI, path string, execution *tasks.Execution) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		<-execution.Done()
		result := execution.Result()
		if result.Killed {
			return
		}
		params := lsp.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: diagnostics(result.Problems, path, execution.Task().Dir()),
		}
		if err := conn.Notify(ctx, "textDocument/publishDiagnostics", params); err != nil {
			s.logger.Debug(ctx, "Diagnostics not delivered", "path", path, "error", err)
		}
	}()
}

// diagnostics places problems in the document at path. Problems located in
// other files, or nowhere, are reported at the top with their location in
// the message.
func diagnostics(problems []errors.Problem, path, dir string) []lsp.Diagnostic {
	out := make([]lsp.Diagnostic, 0, len(problems))
	for _, p := range problems {
		d := lsp.Diagnostic{
			Severity: severity(p.Severity),
			Source:   diagnosticSource,
			Message:  p.Message,
		}
		if p.File != "" && sameFile(p.File, path, dir) {
			line := max(p.Line-1, 0)
			char := max(p.Column-1, 0)
			d.Range = lsp.Range{
				Start: lsp.Position{Line: line, Character: char},
				End:   lsp.Position{Line: line, Character: char},
			}
		} else {
			d.Message = p.String()
		}
		out = append(out, d)
	}
	return out
}

func sameFile(file, path, dir string) bool {
	if filepath.IsAbs(file) {
		return filepath.Clean(file) == path
	}
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return filepath.Join(dir, file) == path || filepath.Join(filepath.Dir(path), file) == path
}

func severity(s errors.Severity) lsp.DiagnosticSeverity {
	if s == errors.SeverityWarning {
		return lsp.Warning
	}
	return lsp.Error
}
