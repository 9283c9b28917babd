// Package auth verifies the signed credential presented by chat clients and
// turns it into an Identity. Credentials are issued elsewhere; this package
// only checks HS256 signatures and expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// Role distinguishes ordinary participants from administrators.
type Role string

const (
	RoleParticipant   Role = "participant"
	RoleAdministrator Role = "administrator"
)

// Identity is the authenticated principal behind a connection or request.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the administrator role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdministrator
}

// ErrMissingToken is returned when a request carries no credential at all.
var ErrMissingToken = errors.New("missing credential")

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses tokenStr and returns the identity it encodes. Any failure is
// reported as apperr.ErrUnauthorized.
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, fmt.Errorf("auth: %w: %w", apperr.ErrUnauthorized, ErrMissingToken)
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: %w: %v", apperr.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: %w: invalid claims", apperr.ErrUnauthorized)
	}

	id := Identity{Role: RoleParticipant}
	id.UserID, _ = claims["sub"].(string)
	if id.UserID == "" {
		id.UserID, _ = claims["user_id"].(string)
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("auth: %w: subject claim missing", apperr.ErrUnauthorized)
	}
	id.Name, _ = claims["name"].(string)
	if id.Name == "" {
		id.Name = id.UserID
	}
	switch role, _ := claims["role"].(string); role {
	case "admin", string(RoleAdministrator):
		id.Role = RoleAdministrator
	}
	return id, nil
}

// Issue signs a token for id that expires after ttl. It is used by tooling
// and tests; production credentials come from the identity service.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	role := "user"
	if id.IsAdmin() {
		role = "admin"
	}
	claims := jwt.MapClaims{
		"sub":  id.UserID,
		"name": id.Name,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the credential from the Authorization header
// ("Bearer <token>") or, for browser WebSocket clients that cannot set
// headers, from the token query parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", jwt.ErrTokenMalformed
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// Authenticate is a convenience wrapper combining TokenFromRequest and Verify.
func (v *Verifier) Authenticate(r *http.Request) (Identity, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: %w: %w", apperr.ErrUnauthorized, err)
	}
	return v.Verify(token)
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
