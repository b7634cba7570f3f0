package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a SidepeekError if
// the input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *SidepeekError {
	if err == nil {
		return nil
	}

	var se *SidepeekError
	if errors.As(err, &se) {
		return &SidepeekError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       se,
			Context:     se.Context,
			Path:        se.Path,
			Recoverable: se.Recoverable,
		}
	}

	return &SidepeekError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType != ErrorTypeIO && errType != ErrorTypeInternal,
	}
}

// WrapIO wraps an error as an I/O error.
func WrapIO(err error, code, message string) *SidepeekError {
	se := Wrap(err, ErrorTypeIO, code, message)
	if se != nil {
		se.Recoverable = false
	}
	return se
}

// TypeOf returns the type of the outermost SidepeekError in err's chain.
func TypeOf(err error) ErrorType {
	var se *SidepeekError
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}

// IsCancelled reports whether err means the user dismissed a prompt.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var se *SidepeekError
	if errors.As(err, &se) {
		return se.Recoverable
	}

	return false
}

// Candidates returns the labels attached to a selection-required error.
func Candidates(err error) []string {
	var se *SidepeekError
	for errors.As(err, &se) {
		if labels, ok := se.Context["candidates"].([]string); ok {
			return labels
		}
		err = se.Cause
		if err == nil {
			break
		}
	}
	return nil
}

// UserMessage renders err for a notification. The innermost SidepeekError
// message is preferred since it is written for the user; other errors fall
// back to their Error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	message := err.Error()
	var se *SidepeekError
	for errors.As(err, &se) {
		message = se.Message
		if se.Cause == nil {
			break
		}
		var inner *SidepeekError
		if !errors.As(se.Cause, &inner) {
			message += ": " + se.Cause.Error()
			break
		}
		err = se.Cause
	}
	return message
}

// Is and As are re-exported so callers need a single errors import.
var (
	Is = errors.Is
	As = errors.As
)

// New is the standard library constructor.
func New(text string) error {
	return errors.New(text)
}
