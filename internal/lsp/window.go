package lsp

import (
	"context"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/conneroisu/sidepeek/internal/errors"
)

// windowNotifier shows notifications in the editor.
type windowNotifier struct {
	conn jsonrpc2.JSONRPC2
}

func (n windowNotifier) Error(ctx context.Context, msg string) {
	n.show(ctx, lsp.MTError, msg)
}

func (n windowNotifier) Info(ctx context.Context, msg string) {
	n.show(ctx, lsp.Info, msg)
}

func (n windowNotifier) show(ctx context.Context, kind lsp.MessageType, msg string) {
	_ = n.conn.Notify(ctx, "window/showMessage", lsp.ShowMessageParams{Type: kind, Message: msg})
}

// windowPicker asks the editor to choose between labels.
type windowPicker struct {
	conn jsonrpc2.JSONRPC2
}

func (p windowPicker) Pick(ctx context.Context, title string, labels []string) (int, error) {
	actions := make([]lsp.MessageActionItem, len(labels))
	for i, label := range labels {
		actions[i] = lsp.MessageActionItem{Title: label}
	}

	var chosen *lsp.MessageActionItem
	err := p.conn.Call(ctx, "window/showMessageRequest", lsp.ShowMessageRequestParams{
		Type:    lsp.Info,
		Message: title,
		Actions: actions,
	}, &chosen)
	if err != nil {
		return -1, errors.NewSelectionRequiredError("", labels)
	}
	if chosen == nil {
		return -1, errors.ErrCancelled
	}
	for i, label := range labels {
		if label == chosen.Title {
			return i, nil
		}
	}
	return -1, errors.ErrCancelled
}
