package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviemark/studio-chat/internal/apperr"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue(Identity{UserID: "u1", Name: "Ada", Role: RoleAdministrator}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "Ada", id.Name)
	assert.True(t, id.IsAdmin())
}

func TestVerifyDefaultsToParticipant(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u2",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleParticipant, id.Role)
	assert.Equal(t, "u2", id.Name)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("test-secret")
	other := NewVerifier("other-secret")

	expired, err := v.Issue(Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue(Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong secret", foreign},
		{"no subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrUnauthorized), "got %v", err)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	token, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "query-token", token)

	r.Header.Set("Authorization", "Bearer header-token")
	token, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "header-token", token)

	r.Header.Set("Authorization", "Basic abc")
	_, err = TokenFromRequest(r)
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)

	_, err = TokenFromRequest(httptest.NewRequest("GET", "/ws", nil))
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestAuthenticateMissingToken(t *testing.T) {
	_, err := NewVerifier("s").Authenticate(httptest.NewRequest("GET", "/ws", nil))
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}
