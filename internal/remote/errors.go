package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies remote call failures.
type Kind string

const (
	KindConnection Kind = "connection"
	KindTimeout    Kind = "timeout"
	KindHTTP       Kind = "http"
	KindMalformed  Kind = "malformed_response"
)

// Error is returned by every Client operation. Compare with errors.Is
// against the sentinels below.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

var (
	ErrConnection        = &Error{Kind: KindConnection}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrHTTP              = &Error{Kind: KindHTTP}
	ErrMalformedResponse = &Error{Kind: KindMalformed}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindHTTP:
		msg = fmt.Sprintf("%s: http status %d", e.Op, e.StatusCode)
	default:
		msg = fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrTimeout) works for any op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func malformed(op string, format string, args ...any) error {
	return &Error{Op: op, Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// transportError classifies errors from http.Client.Do and body reads.
func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Op: op, Kind: KindTimeout, Err: err}
	}
	return &Error{Op: op, Kind: KindConnection, Err: err}
}
