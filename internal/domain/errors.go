package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind discriminates the failures the pipeline can report.
type ErrorKind int

const (
	KindTransport ErrorKind = iota + 1
	KindRateLimited
	KindNotFound
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate limited"
	case KindNotFound:
		return "not found"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the tagged error variant shared by the gateway, the aggregator and
// the injection lifecycle. Callers switch on Kind rather than on Go types.
type Error struct {
	Kind ErrorKind
	// ResetAt is set for KindRateLimited: the caller should back off until then.
	ResetAt time.Time
	Op      string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == KindRateLimited && !e.ResetAt.IsZero() {
		msg = fmt.Sprintf("%s until %s", msg, e.ResetAt.UTC().Format(time.RFC3339))
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransportError wraps err as a transport failure.
func NewTransportError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// NewRateLimitedError reports throttling that lifts at resetAt.
func NewRateLimitedError(op string, resetAt time.Time, err error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, ResetAt: resetAt, Err: err}
}

// NewNotFoundError reports a query that resolved to nothing.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// NewTimeoutError reports a bounded wait that gave up.
func NewTimeoutError(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRateLimited reports whether err is a rate limit failure.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTimeout reports whether err is a bounded-wait timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// ResetAt returns the reset time of a rate limit failure.
func ResetAt(err error) (time.Time, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.ResetAt, true
	}
	return time.Time{}, false
}
