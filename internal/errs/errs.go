package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an error so that callers and the CLI can react to the
// class of failure rather than string-matching messages.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAccount        Kind = "account"
	KindSigning        Kind = "signing"
	KindSigningTimeout Kind = "signing_timeout"
	KindNetwork        Kind = "network"
	KindRateLimited    Kind = "rate_limited"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func Account(message string, err error) *Error {
	return Wrap(KindAccount, message, err)
}

func Signing(message string, err error) *Error {
	return Wrap(KindSigning, message, err)
}

func SigningTimeout(message string, err error) *Error {
	return Wrap(KindSigningTimeout, message, err)
}

func Network(message string, err error) *Error {
	return Wrap(KindNetwork, message, err)
}

func RateLimited(message string, err error) *Error {
	return Wrap(KindRateLimited, message, err)
}

// KindOf returns the kind of a classified error, or an empty kind when the
// error was never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ClassifyTransport maps low-level transport failures onto the taxonomy.
// Connectivity problems become KindNetwork and context deadlines become
// KindSigningTimeout only at signing call sites, so plain deadline errors
// are left untouched here.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	// Deadlines stay unclassified here so signing call sites can map them to
	// KindSigningTimeout themselves.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Network("request transport failed", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Network("connection failed", err)
	}

	return err
}

// Retryable reports whether an error class is worth retrying on a read path.
// Client-side mistakes (validation, account, signing) fail immediately.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}
