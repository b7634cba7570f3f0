package cmd

import (
	"fmt"
	"strings"

	"github.com/conneroisu/sidepeek/internal/errors"
)

// exitError ends the process with code. The failure has already been
// reported to the user.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func reported(code int, err error) error {
	return &exitError{code: code, err: err}
}

func isExit(err error) bool {
	var e *exitError
	return errors.As(err, &e)
}

// ExitCode returns the process exit status for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *exitError
	if errors.As(err, &e) && e.code != 0 {
		return e.code
	}
	return 1
}

// serviceError converts an error from the preview service into the error a
// command returns. The service has already notified the user about most
// failures; a selection the command could not ask for is explained here.
func serviceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.IsCancelled(err):
		return reported(1, err)
	case errors.Is(err, errors.ErrSelectionRequired):
		return fmt.Errorf("several rules match, choose one with --rule: %s",
			strings.Join(quote(errors.Candidates(err)), ", "))
	case errors.TypeOf(err) == errors.ErrorTypeInternal:
		return err
	}
	return reported(1, err)
}

func quote(labels []string) []string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return quoted
}
