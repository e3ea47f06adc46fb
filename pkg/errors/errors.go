package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMalformedARPA   = errors.New("malformed arpa file")
	ErrCorruptSnapshot = errors.New("corrupt phrase snapshot")
	ErrIndexFrozen     = errors.New("phrase index is frozen")
	ErrShortRead       = errors.New("short read")
	ErrUnavailable     = errors.New("dependency unavailable")
	ErrInternal        = errors.New("internal error")
)

// Process exit codes used by the command-line tools.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitBadInput    = 3
	ExitUnavailable = 4
)

type AppError struct {
	Err      error
	Message  string
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, exitCode int, message string) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  message,
		ExitCode: exitCode,
	}
}

func Newf(sentinel error, exitCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: exitCode,
	}
}

// Is and As forward to the standard library so callers only need this package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return ExitUsage
	case errors.Is(err, ErrMalformedARPA), errors.Is(err, ErrCorruptSnapshot), errors.Is(err, ErrShortRead):
		return ExitBadInput
	case errors.Is(err, ErrUnavailable):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
