package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind classifies sandbox failures. Security, timeout, and memory
// violations are fatal to the bot; runtime errors are the bot's own bugs and
// leave it racing on safe defaults.
type ErrorKind string

const (
	ErrSecurity   ErrorKind = "security"
	ErrTimeout    ErrorKind = "timeout"
	ErrMemory     ErrorKind = "memory"
	ErrValidation ErrorKind = "validation"
	ErrRuntime    ErrorKind = "runtime"
)

// Error is a classified sandbox failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("sandbox %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should end the bot's race.
func IsFatal(err error) bool {
	var serr *Error
	if !errors.As(err, &serr) {
		return err != nil
	}
	switch serr.Kind {
	case ErrSecurity, ErrTimeout, ErrMemory:
		return true
	default:
		return false
	}
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
