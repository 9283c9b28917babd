// Package apperr defines the error taxonomy shared by the chat gateway, the
// HTTP APIs and the stores. Every error returned across a package boundary
// wraps exactly one of the sentinel kinds below so it can be mapped to a
// stable wire code and an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrInvalid              = errors.New("invalid request")
	ErrRateLimited          = errors.New("rate limited")
	ErrInternal             = errors.New("internal error")
)

// kinds is ordered: the first sentinel matched by errors.Is wins.
var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrConflict, "conflict", http.StatusConflict},
	{ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{ErrUnsupportedMediaType, "unsupported_media_type", http.StatusUnsupportedMediaType},
	{ErrPayloadTooLarge, "payload_too_large", http.StatusRequestEntityTooLarge},
	{ErrInvalid, "invalid_request", http.StatusBadRequest},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{ErrInternal, "internal", http.StatusInternalServerError},
}

// New returns an error of the given kind with a human readable detail.
func New(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Internal marks err as an internal failure while keeping it in the chain
// for logging. A nil err stays nil.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

// Code returns the stable wire code for err. Errors that carry no known kind
// are reported as internal.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

// HTTPStatus returns the HTTP status matching the kind of err.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Message returns the text that is safe to show to a client. Internal
// failures never leak their cause.
func Message(err error) string {
	if Code(err) == "internal" {
		return ErrInternal.Error()
	}
	return err.Error()
}
