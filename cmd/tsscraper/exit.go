package main

import (
	"context"
	"errors"

	errs "tsscraper/pkg/errors"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitAborted     = 2
	ExitLocked      = 3
	ExitInterrupted = 130
)

// exitCode maps a command error to the process exit code. An aborted run
// is resumable; a locked store means another run owns the output.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, errs.ErrStoreLocked):
		return ExitLocked
	case errors.Is(err, errs.ErrRetriesExhausted), errors.Is(err, errs.ErrCursorStalled):
		return ExitAborted
	default:
		return ExitFailure
	}
}
