// Package picker asks the user to choose between several matching rules.
package picker

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/conneroisu/sidepeek/internal/errors"
)

// Picker returns the index of the chosen label. A dismissed prompt returns
// errors.ErrCancelled. A picker that has no way to ask returns a
// selection-required error carrying the labels.
type Picker interface {
	Pick(ctx context.Context, title string, labels []string) (int, error)
}

// Func adapts a function to Picker.
type Func func(ctx context.Context, title string, labels []string) (int, error)

func (f Func) Pick(ctx context.Context, title string, labels []string) (int, error) {
	return f(ctx, title, labels)
}

// Fixed picks the candidate whose label equals label. An empty or unknown
// label leaves the choice to the caller.
type Fixed string

func (f Fixed) Pick(_ context.Context, _ string, labels []string) (int, error) {
	if f != "" {
		for i, l := range labels {
			if l == string(f) {
				return i, nil
			}
		}
	}
	return -1, errors.NewSelectionRequiredError("", labels)
}

// First always picks the first candidate.
type First struct{}

func (First) Pick(_ context.Context, _ string, labels []string) (int, error) {
	if len(labels) == 0 {
		return -1, errors.ErrCancelled
	}
	return 0, nil
}

// Unavailable never asks and always reports that a selection is required.
type Unavailable struct{}

func (Unavailable) Pick(_ context.Context, _ string, labels []string) (int, error) {
	return -1, errors.NewSelectionRequiredError("", labels)
}

// Chain tries pickers in order and moves on while they report that a
// selection is required.
type Chain []Picker

func (c Chain) Pick(ctx context.Context, title string, labels []string) (int, error) {
	err := error(errors.NewSelectionRequiredError("", labels))
	for _, p := range c {
		var i int
		i, err = p.Pick(ctx, title, labels)
		if err == nil || !errors.Is(err, errors.ErrSelectionRequired) {
			return i, err
		}
	}
	return -1, err
}

// ForTerminal returns an interactive picker when in is a terminal and
// Unavailable otherwise.
func ForTerminal(in io.Reader, out io.Writer) Picker {
	if f, ok := in.(*os.File); ok && isTerminal(f.Fd()) {
		return NewTUI(in, out)
	}
	return Unavailable{}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type ctxKey struct{}

// WithPicker attaches p to ctx for request-scoped selection.
func WithPicker(ctx context.Context, p Picker) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the picker attached to ctx, or fallback.
func FromContext(ctx context.Context, fallback Picker) Picker {
	if p, ok := ctx.Value(ctxKey{}).(Picker); ok && p != nil {
		return p
	}
	if fallback == nil {
		return Unavailable{}
	}
	return fallback
}
