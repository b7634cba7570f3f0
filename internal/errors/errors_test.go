package errors

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidepeekErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *SidepeekError
		expected string
	}{
		{
			name:     "no rule",
			err:      NewNoRuleError("notes/test.md"),
			expected: "[NO_RULE] notes/test.md no rule matches notes/test.md",
		},
		{
			name:     "task with cause",
			err:      NewTaskError(CodeTaskStart, "could not start task 'pandoc'", fmt.Errorf("exec: not found")),
			expected: "[TASK_START] could not start task 'pandoc': exec: not found",
		},
		{
			name:     "unsupported format",
			err:      NewUnsupportedFormatError("out.txt"),
			expected: "[UNSUPPORTED_FORMAT] out.txt viewer supports html and pdf formats only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	assert.True(t, Is(NewNoRuleError("a.md"), ErrNoRule))
	assert.True(t, Is(NewUnsupportedFormatError("a.txt"), ErrUnsupportedFormat))
	assert.True(t, Is(NewSelectionRequiredError("a.md", []string{"x"}), ErrSelectionRequired))
	assert.False(t, Is(NewNoRuleError("a.md"), ErrCancelled))

	wrapped := fmt.Errorf("view: %w", ErrCancelled)
	assert.True(t, IsCancelled(wrapped))
	assert.Equal(t, ErrorTypeCancelled, TypeOf(wrapped))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "X", "nothing"))

	io := WrapIO(fs.ErrPermission, CodeSave, "saving document")
	require.NotNil(t, io)
	assert.Equal(t, ErrorTypeIO, io.Type)
	assert.False(t, io.Recoverable)
	assert.ErrorIs(t, io, fs.ErrPermission)

	inner := NewNoRuleError("doc.md")
	outer := Wrap(inner, ErrorTypeInternal, "VIEW", "view failed")
	assert.Equal(t, "doc.md", outer.Path)
	assert.True(t, outer.Recoverable)
	assert.ErrorIs(t, outer, ErrNoRule)
}

func TestCandidates(t *testing.T) {
	labels := []string{"pandoc: html", "pandoc: pdf"}
	err := fmt.Errorf("resolve: %w", NewSelectionRequiredError("doc.md", labels))
	assert.Equal(t, labels, Candidates(err))
	assert.Nil(t, Candidates(NewNoRuleError("doc.md")))
	assert.Nil(t, Candidates(fmt.Errorf("plain")))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "no rule matches a.md", UserMessage(NewNoRuleError("a.md")))
	assert.Equal(t, "plain failure", UserMessage(fmt.Errorf("plain failure")))
	assert.Equal(t,
		"saving document: permission denied",
		UserMessage(WrapIO(fs.ErrPermission, CodeSave, "saving document")),
	)
	assert.Equal(t,
		"no rule matches a.md",
		UserMessage(Wrap(NewNoRuleError("a.md"), ErrorTypeInternal, "X", "outer")),
	)
}
