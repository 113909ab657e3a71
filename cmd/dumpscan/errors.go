package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	goerrors "github.com/go-errors/errors"

	"github.com/nao1215/dumpscan/internal/dump"
)

// Exit codes.
const (
	exitFatal        = 1
	exitBatchFailure = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error

	// silent is set when the failure was already printed.
	silent bool
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// withExitCode wraps err so that Execute exits with code.
func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// reported is withExitCode for failures already printed to the user.
func reported(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err, silent: true}
}

// isReported reports whether err was already printed.
func isReported(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.silent
}

// exitCode returns the process exit code for err.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

// userMessage maps typed dump errors to the short messages users see.
// Other errors are printed as they are.
func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, dump.ErrInvalidFormat), errors.Is(err, dump.ErrCorruptHeader):
		return "not a supported dump"
	case errors.Is(err, dump.ErrIO):
		return "could not read file"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}

// printFailure writes the user message for a failed dump. In verbose mode
// the underlying error follows, with the stack recorded where the run
// failed when the error carries one.
func printFailure(w io.Writer, name string, err error, verbose bool) {
	fmt.Fprintf(w, "%s: %s\n", name, userMessage(err))
	if !verbose {
		return
	}
	fmt.Fprintf(w, "  cause: %v\n", err)
	var se *goerrors.Error
	if errors.As(err, &se) {
		fmt.Fprint(w, se.ErrorStack())
	}
}
