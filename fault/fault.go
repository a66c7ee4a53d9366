// Package fault defines the error taxonomy surfaced by the voice pipeline.
// Every error that reaches a caller carries a machine code, a human message,
// a recoverability flag, and an optional actionable suggestion. The UI layer
// renders Suggestion verbatim.
package fault

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeMicAccessDenied    Code = "mic_access_denied"
	CodeMicNotFound        Code = "mic_not_found"
	CodeNetwork            Code = "network"
	CodeConversion         Code = "conversion"
	CodeAuth               Code = "auth"
	CodeSessionTimeout     Code = "session_timeout"
	CodeQuality            Code = "quality"
	CodeRateLimit          Code = "rate_limit"
	CodeReconnectExhausted Code = "reconnect_exhausted"
)

type Error struct {
	Code        Code
	Message     string
	Recoverable bool
	Suggestion  string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Recoverable: recoverable(code)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Recoverable: recoverable(code), Cause: cause}
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// recoverable is the default per-code policy. Terminal codes require user
// action (grant permission, plug in a mic, re-login); the rest retry.
func recoverable(code Code) bool {
	switch code {
	case CodeMicAccessDenied, CodeMicNotFound, CodeAuth, CodeReconnectExhausted:
		return false
	}
	return true
}

// CodeOf extracts the fault code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsRecoverable reports whether err may be retried. Errors outside the
// taxonomy are treated as retryable so transient wrapping never strands a
// session.
func IsRecoverable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Recoverable
	}
	return true
}
