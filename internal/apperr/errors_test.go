package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"unauthorized", ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
		{"wrapped forbidden", fmt.Errorf("chat: edit: %w", ErrForbidden), "forbidden", http.StatusForbidden},
		{"detailed not found", New(ErrNotFound, "message %s", "m1"), "not_found", http.StatusNotFound},
		{"conflict", ErrConflict, "conflict", http.StatusConflict},
		{"transition", ErrInvalidTransition, "invalid_transition", http.StatusConflict},
		{"media", ErrUnsupportedMediaType, "unsupported_media_type", http.StatusUnsupportedMediaType},
		{"size", ErrPayloadTooLarge, "payload_too_large", http.StatusRequestEntityTooLarge},
		{"invalid", ErrInvalid, "invalid_request", http.StatusBadRequest},
		{"rate", ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
		{"internal", Internal(errors.New("pq: connection refused")), "internal", http.StatusInternalServerError},
		{"unknown", errors.New("boom"), "internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Code(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestInternalHidesCause(t *testing.T) {
	err := Internal(errors.New("pq: password authentication failed"))

	assert.True(t, errors.Is(err, ErrInternal))
	assert.Equal(t, "internal error", Message(err))
	assert.Contains(t, err.Error(), "password authentication failed")
}

func TestInternalNil(t *testing.T) {
	assert.NoError(t, Internal(nil))
}

func TestMessageKeepsDetail(t *testing.T) {
	err := New(ErrForbidden, "only the sender may edit message %s", "m1")
	assert.Equal(t, "forbidden: only the sender may edit message m1", Message(err))
}
