// Package apperr expresses the error taxonomy of this control plane as a
// single tagged type, translated to an HTTP status only at the REST edge.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one entry of the error taxonomy.
type Kind string

const (
	KindBadRequest            Kind = "BadRequest"
	KindUnknownPlatform       Kind = "UnknownPlatform"
	KindNotFound              Kind = "NotFound"
	KindGone                  Kind = "Gone"
	KindConflict              Kind = "Conflict"
	KindInsufficientProviders Kind = "InsufficientProviders"
	KindProviderError         Kind = "ProviderError"
	KindTimeout               Kind = "Timeout"
	KindNoCandidate           Kind = "NoCandidate"
	KindBadCoord              Kind = "BadCoord"
	KindInternal              Kind = "Internal"
)

// Error is the single error type the core's components return.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, apperr.New(apperr.KindNotFound, "")) matches any NotFound
// error. IsKind does the same check from a bare Kind.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewProviderError builds the §4.3 ProviderError{retryable} kind.
func NewProviderError(message string, retryable bool, err error) *Error {
	return &Error{Kind: KindProviderError, Message: message, Retryable: retryable, Err: err}
}

// IsKind reports whether err (or something it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// AtAPIEdge maps NoCandidate to InsufficientProviders per §7's propagation
// policy, leaving every other kind untouched.
func AtAPIEdge(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindNoCandidate {
		return &Error{Kind: KindInsufficientProviders, Message: e.Message, Err: e.Err}
	}
	return err
}

// HTTPStatus maps a Kind to the status code §7 assigns it.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindBadRequest, KindBadCoord:
		return http.StatusBadRequest
	case KindUnknownPlatform, KindNotFound:
		return http.StatusNotFound
	case KindGone:
		return http.StatusGone
	case KindConflict:
		return http.StatusConflict
	case KindInsufficientProviders, KindNoCandidate:
		return http.StatusServiceUnavailable
	case KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
