package graphql

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// SanitizedError is an error that is safe to return to a client verbatim,
// as opposed to an internal error whose message might leak implementation
// detail.
type SanitizedError interface {
	error
	SanitizedError() string
}

type SafeError struct {
	message string
}

type ClientError SafeError

func (e ClientError) Error() string {
	return e.message
}

func (e ClientError) SanitizedError() string {
	return e.message
}

func (e SafeError) Error() string {
	return e.message
}

func (e SafeError) SanitizedError() string {
	return e.message
}

// Unwrap returns nil for a plain SafeError (it carries no further cause);
// wrappedSafeError below overrides this when one is attached.
func (e SafeError) Unwrap() error {
	return nil
}

func NewClientError(format string, a ...interface{}) error {
	return ClientError{message: fmt.Sprintf(format, a...)}
}

func NewSafeError(format string, a ...interface{}) error {
	return SafeError{message: fmt.Sprintf(format, a...)}
}

// wrappedSafeError is a SafeError that also remembers the internal cause it
// sanitized away, so callers can still Unwrap() to it for logging while the
// client only ever sees the safe message.
type wrappedSafeError struct {
	SafeError
	cause error
}

func (e wrappedSafeError) Unwrap() error { return e.cause }

// WrapAsSafeError builds a SafeError carrying message, remembering cause
// for logging via errors.Unwrap without ever exposing it to the client.
func WrapAsSafeError(cause error, format string, a ...interface{}) error {
	return wrappedSafeError{
		SafeError: SafeError{message: fmt.Sprintf(format, a...)},
		cause:     cause,
	}
}

func sanitizeError(err error) string {
	if sanitized, ok := err.(SanitizedError); ok {
		return sanitized.SanitizedError()
	}
	return "Internal server error"
}

func isCloseError(err error) bool {
	_, ok := err.(*websocket.CloseError)
	return ok || err == websocket.ErrCloseSent
}

// Kind tags which stage of the pipeline raised an error, per the
// dispositions in the error handling design.
type Kind string

const (
	KindParseError                 Kind = "ParseError"
	KindValidationError            Kind = "ValidationError"
	KindPlanError                  Kind = "PlanError"
	KindUpstreamNetworkError       Kind = "UpstreamNetworkError"
	KindUpstreamTimeout            Kind = "UpstreamTimeout"
	KindUpstreamGraphQLError       Kind = "UpstreamGraphQLError"
	KindCompositionError           Kind = "CompositionError"
	KindSubscriptionUpstreamClosed Kind = "SubscriptionUpstreamClosed"
)

// Error is a typed, path-addressed GraphQL error, which the transport
// layer renders in the {message, path} error shape. Source locations are
// not carried.
type Error struct {
	Kind    Kind
	Message string
	Path    []interface{}
	inner   error
}

func (e *Error) Error() string {
	if e.inner != nil {
		return e.Message + ": " + e.inner.Error()
	}
	return e.Message
}

func (e *Error) SanitizedError() string { return e.Message }

func (e *Error) Unwrap() error { return e.inner }

// NewError builds a typed Error of the given kind, optionally wrapping an
// underlying cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, inner: cause}
}

// WithPath returns a copy of e with segment prepended to its existing path,
// the same "nest path on the way back up the call stack" idiom as
// NestPathError below.
func (e *Error) WithPath(segment interface{}) *Error {
	path := make([]interface{}, 0, len(e.Path)+1)
	path = append(path, segment)
	path = append(path, e.Path...)
	return &Error{Kind: e.Kind, Message: e.Message, Path: path, inner: e.inner}
}

// pathError is an error annotated with its position in the response tree,
// built up frame by frame as execution unwinds. Grounded on thunder's
// graphql/executor.go pathError/nestPathError pair.
type pathError struct {
	inner error
	path  []interface{}
}

func (e *pathError) Error() string {
	return fmt.Sprintf("%v (path %v)", e.inner, e.path)
}

func (e *pathError) Unwrap() error { return e.inner }

// NestPathError wraps err with an additional path segment, unless err is
// already a typed *Error (which carries and grows its own path via
// WithPath) or already a *pathError for this same frame.
func NestPathError(key interface{}, err error) error {
	if err == nil {
		return nil
	}
	if typed, ok := err.(*Error); ok {
		return typed.WithPath(key)
	}
	if pe, ok := err.(*pathError); ok {
		pe.path = append([]interface{}{key}, pe.path...)
		return pe
	}
	return &pathError{inner: err, path: []interface{}{key}}
}

// CompositionError collects every conflict found while merging subgraph
// schemas. The Composer returns this instead of failing on the first error
// it hits, so callers can report every problem in one pass.
type CompositionError struct {
	Errors []error
}

func (e *CompositionError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d composition errors:", len(e.Errors))
	for _, err := range e.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Add appends err to the error list.
func (e *CompositionError) Add(err error) {
	e.Errors = append(e.Errors, err)
}

// HasErrors reports whether any error was recorded.
func (e *CompositionError) HasErrors() bool { return e != nil && len(e.Errors) > 0 }

// ErrOrNil returns e as an error if it holds any, nil otherwise, so callers
// can write `return schema, errs.ErrOrNil()`.
func (e *CompositionError) ErrOrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}
