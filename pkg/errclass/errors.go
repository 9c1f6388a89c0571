// Package errclass defines the stable error classes surfaced by gridlink.
package errclass

import (
	"errors"
	"fmt"
)

// GridError is a stable, machine-readable error class.
type GridError struct {
	Code    string
	Message string
}

func (e *GridError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GridError) Is(target error) bool {
	t, ok := target.(*GridError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new GridError with the same Code but a specific message.
func (e *GridError) WithMessage(msg string) *GridError {
	return &GridError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new GridError with a formatted message.
func (e *GridError) WithMessagef(format string, args ...any) *GridError {
	return &GridError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	// Connection setup.
	ErrNegotiationFailed = &GridError{Code: "E_NEGOTIATION_FAILED"}
	ErrProtocol          = &GridError{Code: "E_PROTOCOL"}
	ErrChannelPromotion  = &GridError{Code: "E_CHANNEL_PROMOTION"}

	// Input validation.
	ErrInvalidArgument = &GridError{Code: "E_INVALID_ARGUMENT"}
	ErrConfigInvalid   = &GridError{Code: "E_CONFIG_INVALID"}

	// Restart ledger.
	ErrRestartNotFound   = &GridError{Code: "E_RESTART_NOT_FOUND"}
	ErrSegmentOutOfRange = &GridError{Code: "E_SEGMENT_OUT_OF_RANGE"}
	ErrRestartCorrupt    = &GridError{Code: "E_RESTART_CORRUPT"}
	ErrRestartExhausted  = &GridError{Code: "E_RESTART_EXHAUSTED"}
	ErrStore             = &GridError{Code: "E_STORE"}
)

// Recoverable reports whether the caller may recover from err by treating the
// transfer as fresh (re-registering it with the ledger).
func Recoverable(err error) bool {
	return errors.Is(err, ErrRestartNotFound) || errors.Is(err, ErrSegmentOutOfRange)
}

// Code extracts the class code from err, or "" when err carries no GridError.
func Code(err error) string {
	var ge *GridError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
