package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
)

// SessionValidator confirms that the session behind an access token is
// still live. It returns models.ErrSessionNotFound when the row is gone or
// expired; any other error means the store could not answer.
type SessionValidator interface {
	ValidateSession(ctx context.Context, claims *models.TokenClaims) error
}

// Authenticator resolves the caller of a request from its bearer token and
// the live session registry.
type Authenticator struct {
	tokens   *TokenManager
	sessions SessionValidator
}

func NewAuthenticator(tokens *TokenManager, sessions SessionValidator) *Authenticator {
	return &Authenticator{tokens: tokens, sessions: sessions}
}

// Authenticate returns the caller's claims. Errors wrapping
// models.ErrUnauthorized are the caller's fault; anything else is a store
// failure and must fail closed.
func (a *Authenticator) Authenticate(r *http.Request) (*models.TokenClaims, error) {
	token, ok := pkghttp.BearerToken(r)
	if !ok {
		return nil, fmt.Errorf("%w: missing bearer token", models.ErrUnauthorized)
	}

	claims, err := a.tokens.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}

	if err := a.sessions.ValidateSession(r.Context(), claims); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: session revoked or expired", models.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}

	return claims, nil
}

// WithClaims stores claims in ctx
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
