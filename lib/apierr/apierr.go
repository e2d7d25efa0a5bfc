// Package apierr defines the closed error taxonomy shared by the portal
// scrapers and the usage engine. Callers match on Kind rather than on an
// open-ended type hierarchy.
package apierr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	// transport-level failure (timeout, DNS, TLS), safe to retry
	KindConnection Kind = iota
	// rejected credentials or a failed SSO assertion exchange
	KindAuthentication
	// the backend answered but the payload is invalid or an explicit error
	KindApi
	// the requested or default meter is absent from the enumeration
	KindMeterNotFound
	// caller-supplied date range is invalid
	KindInvalidRange
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindApi:
		return "api"
	case KindMeterNotFound:
		return "meter not found"
	case KindInvalidRange:
		return "invalid range"
	}
	return "unknown"
}

// Error carries enough request context (endpoint, interval, date range)
// to diagnose a failure without re-running in verbose mode.
type Error struct {
	Kind     Kind
	Message  string
	Endpoint string
	Interval string
	Start    time.Time
	End      time.Time
	Cause    error
}

func (e *Error) Error() string {
	var out strings.Builder
	out.WriteString(e.Kind.String())
	out.WriteString(": ")
	out.WriteString(e.Message)

	var ctx []string
	if e.Endpoint != "" {
		ctx = append(ctx, "endpoint="+e.Endpoint)
	}
	if e.Interval != "" {
		ctx = append(ctx, "interval="+e.Interval)
	}
	if !e.Start.IsZero() || !e.End.IsZero() {
		ctx = append(ctx, fmt.Sprintf(
			"range=%s..%s",
			e.Start.Format("2006-01-02"),
			e.End.Format("2006-01-02"),
		))
	}
	if len(ctx) > 0 {
		out.WriteString(" (")
		out.WriteString(strings.Join(ctx, " "))
		out.WriteString(")")
	}

	if e.Cause != nil {
		out.WriteString(": ")
		out.WriteString(e.Cause.Error())
	}
	return out.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

func (e *Error) WithInterval(interval string) *Error {
	e.Interval = interval
	return e
}

func (e *Error) WithRange(start, end time.Time) *Error {
	e.Start = start
	e.End = end
	return e
}

// KindOf reports the taxonomy kind of err, if err (or anything it wraps)
// originated from this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is makes errors.Is(err, apierr.New(kind, ...)) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}
