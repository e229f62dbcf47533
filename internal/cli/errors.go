package cli

import (
	"errors"
	"fmt"

	"github.com/dcshock/pipectl/pipeline"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitInvalidModules = 2
)

// ExitError carries the process exit code for an error returned by a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError maps err to an ExitError: 2 for invalid module selections, 1 for
// everything else. Nil stays nil.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return err
	}
	code := ExitFailure
	if errors.Is(err, pipeline.ErrInvalidModules) {
		code = ExitInvalidModules
	}
	return &ExitError{Code: code, Message: err.Error(), Err: err}
}

// ExitCode returns the exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}
