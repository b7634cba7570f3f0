// Package notify delivers user-facing messages: build failures, missing
// rules and other problems the user has to act on.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Notifier reports messages to the user.
type Notifier interface {
	Error(ctx context.Context, msg string)
	Info(ctx context.Context, msg string)
}

var (
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	tagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Writer prints styled messages to a terminal stream.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter returns a notifier that writes to out, normally os.Stderr.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Error(_ context.Context, msg string) {
	w.print(errorStyle.Render("error"), msg)
}

func (w *Writer) Info(_ context.Context, msg string) {
	w.print(infoStyle.Render("info"), msg)
}

func (w *Writer) print(level, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s %s %s\n", tagStyle.Render("sidepeek"), level, msg)
}

// Level is the severity of a collected message.
type Level string

const (
	LevelError Level = "error"
	LevelInfo  Level = "info"
)

// Message is one collected notification.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Collector records messages so they can be returned to a caller, such as an
// HTTP client, after an operation finishes.
type Collector struct {
	mu       sync.Mutex
	messages []Message
}

func (c *Collector) Error(_ context.Context, msg string) {
	c.add(LevelError, msg)
}

func (c *Collector) Info(_ context.Context, msg string) {
	c.add(LevelInfo, msg)
}

func (c *Collector) add(level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{Level: level, Text: msg})
}

// Messages returns a copy of everything collected so far.
func (c *Collector) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Errors returns the text of collected error messages.
func (c *Collector) Errors() []string {
	var out []string
	for _, m := range c.Messages() {
		if m.Level == LevelError {
			out = append(out, m.Text)
		}
	}
	return out
}

// Multi fans a message out to several notifiers.
type Multi []Notifier

func (m Multi) Error(ctx context.Context, msg string) {
	for _, n := range m {
		if n != nil {
			n.Error(ctx, msg)
		}
	}
}

func (m Multi) Info(ctx context.Context, msg string) {
	for _, n := range m {
		if n != nil {
			n.Info(ctx, msg)
		}
	}
}

// Discard drops every message.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Error(context.Context, string) {}
func (discard) Info(context.Context, string)  {}

type ctxKey struct{}

// WithNotifier attaches n to ctx. Request-scoped notifiers travel this way
// so a shared service can answer each caller on its own channel.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, ctxKey{}, n)
}

// FromContext returns the notifier attached to ctx, or fallback.
func FromContext(ctx context.Context, fallback Notifier) Notifier {
	if n, ok := ctx.Value(ctxKey{}).(Notifier); ok && n != nil {
		return n
	}
	if fallback == nil {
		return Discard
	}
	return fallback
}
