// Package errors defines the structured error type used across sidepeek and
// the taxonomy of preview failures reported to the user. It also extracts
// problems from build tool output.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeNoRule    ErrorType = "no_rule"
	ErrorTypeTask      ErrorType = "task"
	ErrorTypeViewer    ErrorType = "viewer"
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeSelection ErrorType = "selection"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeInternal  ErrorType = "internal"
)

// Error codes.
const (
	CodeNoRule            = "NO_RULE"
	CodeTaskMissing       = "TASK_MISSING"
	CodeTaskNotShell      = "TASK_NOT_SHELL"
	CodeTaskNoCommand     = "TASK_NO_COMMAND"
	CodeTaskStart         = "TASK_START"
	CodeTaskFailed        = "TASK_FAILED"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeCancelled         = "CANCELLED"
	CodeSelectionRequired = "SELECTION_REQUIRED"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeSave              = "SAVE"
	CodeStore             = "STORE"
)

// SidepeekError is a structured error type with context.
type SidepeekError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *SidepeekError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SidepeekError) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same type and code.
func (e *SidepeekError) Is(target error) bool {
	var t *SidepeekError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SidepeekError) WithContext(key string, value interface{}) *SidepeekError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file the error is about.
func (e *SidepeekError) WithPath(path string) *SidepeekError {
	e.Path = path

	return e
}

// Sentinels usable with errors.Is.
var (
	ErrCancelled = &SidepeekError{
		Type:        ErrorTypeCancelled,
		Code:        CodeCancelled,
		Message:     "selection cancelled",
		Recoverable: true,
	}
	ErrNoRule = &SidepeekError{
		Type:        ErrorTypeNoRule,
		Code:        CodeNoRule,
		Message:     "no rule matches",
		Recoverable: true,
	}
	ErrUnsupportedFormat = &SidepeekError{
		Type:        ErrorTypeViewer,
		Code:        CodeUnsupportedFormat,
		Message:     "viewer supports html and pdf formats only",
		Recoverable: true,
	}
	ErrSelectionRequired = &SidepeekError{
		Type:        ErrorTypeSelection,
		Code:        CodeSelectionRequired,
		Message:     "several rules match, a selection is required",
		Recoverable: true,
	}
)

// NewNoRuleError reports that no rule definition matches path.
func NewNoRuleError(path string) *SidepeekError {
	return &SidepeekError{
		Type:        ErrorTypeNoRule,
		Code:        CodeNoRule,
		Message:     "no rule matches " + path,
		Path:        path,
		Recoverable: true,
	}
}

// NewTaskError reports a task that could not be resolved or run.
func NewTaskError(code, message string, cause error) *SidepeekError {
	return &SidepeekError{
		Type:        ErrorTypeTask,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewUnsupportedFormatError reports an output the viewer cannot display.
func NewUnsupportedFormatError(path string) *SidepeekError {
	return &SidepeekError{
		Type:        ErrorTypeViewer,
		Code:        CodeUnsupportedFormat,
		Message:     "viewer supports html and pdf formats only",
		Path:        path,
		Recoverable: true,
	}
}

// NewSelectionRequiredError carries the candidate labels a caller has to
// choose between.
func NewSelectionRequiredError(path string, labels []string) *SidepeekError {
	err := &SidepeekError{
		Type:        ErrorTypeSelection,
		Code:        CodeSelectionRequired,
		Message:     "several rules match, a selection is required",
		Path:        path,
		Recoverable: true,
	}
	return err.WithContext("candidates", labels)
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *SidepeekError {
	return &SidepeekError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SidepeekError {
	return &SidepeekError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *SidepeekError {
	return &SidepeekError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}
