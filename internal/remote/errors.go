package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a remote failure by how the engine should react.
type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindAuthUnavailable ErrorKind = "auth_unavailable"
	KindSchemaMismatch  ErrorKind = "schema_mismatch"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindPermanent       ErrorKind = "permanent"
)

// Error is returned by every collaborator call that fails.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotSignedIn is wrapped by auth_unavailable errors raised before any
// request was sent.
var ErrNotSignedIn = errors.New("not signed in")

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// SchemaError reports an unexpected response shape.
func SchemaError(op, format string, args ...any) *Error {
	return &Error{Kind: KindSchemaMismatch, Op: op, Err: fmt.Errorf(format, args...)}
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthUnavailable
	case code == http.StatusNotFound || code == http.StatusGone:
		return KindNotFound
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// ClassifyError wraps a transport-level failure. Timeouts, cancellations
// and network errors are transient; anything else is permanent. Errors
// that are already classified pass through unchanged.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return NewError(KindTransient, op, err)
	}
	return NewError(KindPermanent, op, err)
}

// KindOf returns the kind of err, or "" when err is not a remote error.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func IsTransient(err error) bool       { return KindOf(err) == KindTransient }
func IsAuthUnavailable(err error) bool { return KindOf(err) == KindAuthUnavailable }
func IsSchemaMismatch(err error) bool  { return KindOf(err) == KindSchemaMismatch }
func IsNotFound(err error) bool        { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool        { return KindOf(err) == KindConflict }
