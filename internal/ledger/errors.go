package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a ledger failure.
type Code string

const (
	CodeActiveTokenExists Code = "active_token_exists"
	CodeInvalidToken      Code = "invalid_token"
	CodeInvalidCandidate  Code = "invalid_candidate"
	CodeInactiveCandidate Code = "inactive_candidate"
	CodeUnavailable       Code = "unavailable"
	CodeOther             Code = "other"
)

// Error is the tagged failure returned by every Service implementation.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("ledger: %s: %s: %v", e.Code, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("ledger: %s: %s", e.Code, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("ledger: %s: %v", e.Code, e.Err)
	default:
		return "ledger: " + string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrInvalidToken) works
// regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrActiveTokenExists = &Error{Code: CodeActiveTokenExists}
	ErrInvalidToken      = &Error{Code: CodeInvalidToken}
	ErrInvalidCandidate  = &Error{Code: CodeInvalidCandidate}
	ErrInactiveCandidate = &Error{Code: CodeInactiveCandidate}
	ErrUnavailable       = &Error{Code: CodeUnavailable}
)

// Fail builds a tagged failure.
func Fail(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, Err: cause}
}

// Unavailable wraps a transport failure or timeout.
func Unavailable(op string, cause error) *Error {
	return &Error{Code: CodeUnavailable, Detail: op, Err: cause}
}

// CodeOf returns the code carried by err, CodeUnavailable for context expiry and
// CodeOther for anything else.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeUnavailable
	}
	return CodeOther
}
