// Package fault defines the error taxonomy shared by every remote-facing
// component: a flat set of kinds, a recoverable flag driving retry
// eligibility, and structured details for logging.
package fault

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind tags the failure class of an Error.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindInvalidParameter  Kind = "invalid_parameter"
	KindConfiguration     Kind = "configuration"
	KindNetwork           Kind = "network"
	KindTimeout           Kind = "timeout"
	KindRemoteAPI         Kind = "remote_api"
	KindContentValidation Kind = "content_validation"
	KindContentFormat     Kind = "content_format"
	KindProtocol          Kind = "protocol"
	KindEncoding          Kind = "encoding"
)

// Error is the uniform failure record. Created at the throw site, logged
// immediately, never mutated afterwards.
type Error struct {
	Kind        Kind
	Message     string
	Details     map[string]any
	Recoverable bool
	Timestamp   time.Time
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Option customizes an Error at construction time.
type Option func(*Error)

// WithDetail attaches one key/value pair to the error's details map.
func WithDetail(key string, value any) Option {
	return func(e *Error) {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details[key] = value
	}
}

// WithCause records the underlying error. It is also mirrored into
// details.cause so serialized records keep it.
func WithCause(err error) Option {
	return func(e *Error) {
		e.cause = err
		if err != nil {
			if e.Details == nil {
				e.Details = map[string]any{}
			}
			e.Details["cause"] = err.Error()
		}
	}
}

// WithRecoverable overrides the kind's default recoverable flag.
func WithRecoverable(v bool) Option {
	return func(e *Error) { e.Recoverable = v }
}

func newError(kind Kind, recoverable bool, message string, opts ...Option) *Error {
	e := &Error{
		Kind:        kind,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	logError(e)
	return e
}

func logError(e *Error) {
	attrs := []any{"kind", string(e.Kind), "recoverable", e.Recoverable}
	for k, v := range e.Details {
		attrs = append(attrs, k, v)
	}
	slog.Default().With("component", "fault").Warn(e.Message, attrs...)
}

// Constructors. Each kind's default recoverable flag reflects whether
// retrying the same operation with the same arguments could plausibly
// succeed.

func Unknown(msg string, opts ...Option) *Error {
	return newError(KindUnknown, false, msg, opts...)
}

func Invalid(msg string, opts ...Option) *Error {
	return newError(KindInvalidParameter, false, msg, opts...)
}

func Config(msg string, opts ...Option) *Error {
	return newError(KindConfiguration, false, msg, opts...)
}

func Network(msg string, opts ...Option) *Error {
	return newError(KindNetwork, true, msg, opts...)
}

func Timeout(msg string, opts ...Option) *Error {
	return newError(KindTimeout, true, msg, opts...)
}

func Remote(msg string, opts ...Option) *Error {
	return newError(KindRemoteAPI, true, msg, opts...)
}

func Validation(msg string, opts ...Option) *Error {
	return newError(KindContentValidation, false, msg, opts...)
}

func Format(msg string, opts ...Option) *Error {
	return newError(KindContentFormat, false, msg, opts...)
}

func Protocol(msg string, opts ...Option) *Error {
	return newError(KindProtocol, false, msg, opts...)
}

func Encoding(msg string, opts ...Option) *Error {
	return newError(KindEncoding, false, msg, opts...)
}

// As extracts a *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindUnknown
}

// IsRecoverable reports whether err carries a recoverable fault. Foreign
// errors are treated as non-recoverable.
func IsRecoverable(err error) bool {
	if fe, ok := As(err); ok {
		return fe.Recoverable
	}
	return false
}
