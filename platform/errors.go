package platform

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies the outcome of an external platform call.
type Kind int

const (
	// KindOK is reported for a nil error.
	KindOK Kind = iota
	// KindNotFound means the target is already gone.
	KindNotFound
	// KindForbidden means the bot lacks a permission. Never retried automatically.
	KindForbidden
	// KindRateLimited carries a retry-after duration.
	KindRateLimited
	// KindRaceLost means the world changed under us, e.g. a member
	// disconnected before a move completed.
	KindRaceLost
	// KindUnknown is everything else.
	KindUnknown
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindRaceLost:
		return "race_lost"
	default:
		return "unknown"
	}
}

// Error is returned by API implementations for every failed call.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Kind == KindRateLimited {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error for op.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// RateLimited builds a KindRateLimited error.
func RateLimited(op string, retryAfter time.Duration) *Error {
	return &Error{Op: op, Kind: KindRateLimited, RetryAfter: retryAfter}
}

// KindOf classifies err. Errors that are not *Error are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// RetryAfterOf returns the retry-after of a rate limit error, or zero.
func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimited {
		return pe.RetryAfter
	}
	return 0
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsForbidden reports whether err is a KindForbidden error.
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }
