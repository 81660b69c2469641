// Package errors provides the structured error kinds shared by the project
// and chat lifecycles and their storage adapters.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure for the transport layer.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindNotFound      Kind = "not_found"
	KindStorage       Kind = "storage_error"
	KindMetadata      Kind = "metadata_error"
	KindUpstreamFetch Kind = "upstream_fetch_error"
	KindUpstream      Kind = "upstream_error"
	KindForbidden     Kind = "forbidden"
	KindInternal      Kind = "internal_error"
)

// Sentinel errors, one per kind. Every *Error matches the sentinel of its kind
// through errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("resource not found")
	ErrStorage       = errors.New("blob storage failure")
	ErrMetadata      = errors.New("document store failure")
	ErrUpstreamFetch = errors.New("remote fetch failed")
	ErrUpstream      = errors.New("completion service failure")
	ErrForbidden     = errors.New("access denied")
)

var sentinels = map[Kind]error{
	KindValidation:    ErrValidation,
	KindNotFound:      ErrNotFound,
	KindStorage:       ErrStorage,
	KindMetadata:      ErrMetadata,
	KindUpstreamFetch: ErrUpstreamFetch,
	KindUpstream:      ErrUpstream,
	KindForbidden:     ErrForbidden,
}

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "project.Delete"
	Message string // safe to show to callers
	Err     error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// E builds a classified error.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Validation is shorthand for a validation failure without a cause.
func Validation(op, message string) *Error {
	return E(KindValidation, op, message, nil)
}

// NotFound is shorthand for a missing resource.
func NotFound(op, message string) *Error {
	return E(KindNotFound, op, message, nil)
}

// Wrap classifies err as kind unless it already carries a kind, in which case
// the original classification wins.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return E(kind, op, message, err)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Unexpected error occurred."
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// APIError represents a non-success response from an external service.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether err is a transient upstream failure: a 429 or
// 5xx response, or a transport error. Cancellation and deadlines are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := StatusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
