// Package errors provides the structured error type used across the SDK
package errors

// Always import the project errors package as perr (platform/errors)

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies how a request failed
// Values are stable; add sparingly
type Kind uint8

const (
	// KindUnknown is for unclassified errors
	KindUnknown Kind = iota

	// KindValidation is for client-side input or decode failures
	KindValidation

	// KindAPIConnection is for transport-level failures before a status was read
	KindAPIConnection

	// KindAPIStatus is for non-2xx HTTP responses
	KindAPIStatus

	// KindAPITimeout is for progress-timeout expiry in retry or polling loops
	KindAPITimeout

	// KindRequestFailed is the catch-all for non-HTTP internal failures,
	// e.g. a panic recovered in a background task
	KindRequestFailed
)

// String names the kind for logs and telemetry
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAPIConnection:
		return "api_connection"
	case KindAPIStatus:
		return "api_status"
	case KindAPITimeout:
		return "api_timeout"
	case KindRequestFailed:
		return "request_failed"
	default:
		return "unknown"
	}
}

// Category attributes a failure to a side of the wire
type Category uint8

const (
	// CategoryUnknown is for failures with no clear owner
	CategoryUnknown Category = iota

	// CategoryUser is for failures the caller can fix
	CategoryUser

	// CategoryServer is for failures on the service side
	CategoryServer
)

// String names the category for logs and wire bodies
func (c Category) String() string {
	switch c {
	case CategoryUser:
		return "user"
	case CategoryServer:
		return "server"
	default:
		return "unknown"
	}
}

// ParseCategory maps a server-provided category hint onto a Category.
// Unrecognized hints map to unknown so a newer server cannot break us
func ParseCategory(s string) Category {
	switch s {
	case "user":
		return CategoryUser
	case "server":
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

// CategoryFromStatus derives the default category from an HTTP status class.
// A body-level category hint, when present, overrides this
func CategoryFromStatus(status int) Category {
	switch {
	case status == http.StatusTooManyRequests:
		return CategoryServer
	case status >= 500:
		return CategoryServer
	case status >= 400:
		return CategoryUser
	default:
		return CategoryUnknown
	}
}

// Error is the structured error type
// msg is human/developer facing; kind and category are machine facing
// status is the HTTP status when kind is api_status; op is an optional tag
// data carries free-form diagnostics (queue_state, retained panic, ...)
type Error struct {
	orig       error
	msg        string
	kind       Kind
	category   Category
	status     int
	op         string
	data       map[string]any
	retryAfter time.Duration
	hasRetry   bool
	retryHint  *bool // x-should-retry override; nil means no override
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error { return e.orig }

// Kind returns the error kind
func (e *Error) Kind() Kind { return e.kind }

// Category returns the error category
func (e *Error) Category() Category { return e.category }

// Status returns the HTTP status, or 0 when not an api_status error
func (e *Error) Status() int { return e.status }

// Op returns the operation tag, if set
func (e *Error) Op() string { return e.op }

// Data returns the free-form diagnostics map (may be nil)
func (e *Error) Data() map[string]any { return e.data }

// RetryAfter returns the server-requested retry delay and whether one was set
func (e *Error) RetryAfter() (time.Duration, bool) { return e.retryAfter, e.hasRetry }

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf extracts a Kind from any error, defaulting to Unknown
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.kind
	}
	return KindUnknown
}

// CategoryOf extracts a Category from any error, defaulting to Unknown
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.category
	}
	return CategoryUnknown
}

// StatusOf extracts the HTTP status from any error, or 0
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.status
	}
	return 0
}

// IsKind reports whether err has the given kind
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// RetryAfterOf extracts the server-requested delay from any error
func RetryAfterOf(err error) (time.Duration, bool) {
	if e, ok := As(err); ok {
		return e.RetryAfter()
	}
	return 0, false
}

// Retryable is the single retry predicate every component consults.
// An x-should-retry hint, when recorded, wins over all heuristics
func Retryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	if e.retryHint != nil {
		return *e.retryHint
	}
	switch e.kind {
	case KindAPIConnection:
		return true
	case KindAPIStatus:
		switch {
		case e.status == http.StatusTooManyRequests:
			return true
		case e.status == http.StatusRequestTimeout:
			return true
		case e.status >= 500:
			return true
		default:
			// 4xx is the caller's fault unless the server says otherwise
			return e.category == CategoryServer
		}
	default:
		return false
	}
}

// Mutators (copy-on-write)

// WithOp attaches an operation tag (copy-on-write). Foreign errors pass through
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// WithData merges diagnostics into the data map (copy-on-write)
func WithData(err error, kv map[string]any) error {
	e, ok := As(err)
	if !ok {
		return err
	}
	c := *e
	c.data = make(map[string]any, len(e.data)+len(kv))
	for k, v := range e.data {
		c.data[k] = v
	}
	for k, v := range kv {
		c.data[k] = v
	}
	return &c
}

// WithRetryAfter records the server-requested retry delay (copy-on-write)
func WithRetryAfter(err error, d time.Duration) error {
	if e, ok := As(err); ok {
		c := *e
		c.retryAfter = d
		c.hasRetry = true
		return &c
	}
	return err
}

// WithRetryHint records an x-should-retry override (copy-on-write)
func WithRetryHint(err error, retry bool) error {
	if e, ok := As(err); ok {
		c := *e
		c.retryHint = &retry
		return &c
	}
	return err
}

// WithCategory overrides the category, used when a response body carries a
// category hint (copy-on-write)
func WithCategory(err error, cat Category) error {
	if e, ok := As(err); ok {
		c := *e
		c.category = cat
		return &c
	}
	return err
}

// Constructors

// New returns a new *Error with the given kind and message
func New(kind Kind, msg string) error { return &Error{kind: kind, msg: msg} }

// Newf returns a new *Error with kind and formatted message
func Newf(kind Kind, format string, a ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with kind and message
func Wrap(orig error, kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with kind and formatted message
func Wrapf(orig error, kind Kind, format string, a ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, a...), orig: orig}
}

// Status returns an api_status error with category derived from the code
func Status(status int, msg string) error {
	return &Error{kind: KindAPIStatus, category: CategoryFromStatus(status), status: status, msg: msg}
}

// Statusf returns an api_status error with a formatted message
func Statusf(status int, format string, a ...any) error {
	return &Error{
		kind:     KindAPIStatus,
		category: CategoryFromStatus(status),
		status:   status,
		msg:      fmt.Sprintf(format, a...),
	}
}

// Sugar

// Validationf returns a validation error (user category, never retried)
func Validationf(format string, a ...any) error {
	return &Error{kind: KindValidation, category: CategoryUser, msg: fmt.Sprintf(format, a...)}
}

// Connectionf returns a transport-level error
func Connectionf(format string, a ...any) error {
	return &Error{kind: KindAPIConnection, msg: fmt.Sprintf(format, a...)}
}

// ConnectionWrap wraps a transport error
func ConnectionWrap(orig error, msg string) error {
	return &Error{kind: KindAPIConnection, msg: msg, orig: orig}
}

// Timeoutf returns a progress-timeout error
func Timeoutf(format string, a ...any) error {
	return &Error{kind: KindAPITimeout, msg: fmt.Sprintf(format, a...)}
}

// RequestFailedf returns a request_failed error
func RequestFailedf(format string, a ...any) error {
	return &Error{kind: KindRequestFailed, msg: fmt.Sprintf(format, a...)}
}

// RequestFailedWrap wraps an internal failure, retaining the cause for diagnostics
func RequestFailedWrap(orig error, msg string) error {
	return &Error{kind: KindRequestFailed, msg: msg, orig: orig, data: map[string]any{"cause": orig}}
}
