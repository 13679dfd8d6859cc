package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "bastion"

// TokenManager signs and verifies access and handshake JWTs. Signature
// validity alone never authenticates a request: access tokens are only
// honored while their session row exists, handshakes while their row is
// unconsumed.
type TokenManager struct {
	secret            []byte
	accessTokenExpiry time.Duration
	now               func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:            []byte(secret),
		accessTokenExpiry: accessExpiry,
		now:               time.Now,
	}
}

// AccessTokenExpiry is the lifetime of access tokens and of their sessions
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// IssuedToken is a signed token with the claims it carries
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// GenerateAccessToken mints an access token. Its ID claim is the key of the
// session row that must be created alongside it.
func (tm *TokenManager) GenerateAccessToken(user *models.User, rememberMe bool) (*IssuedToken, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:       models.TokenTypeAccess,
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		RememberMe: rememberMe,
		RegisteredClaims: tm.registered(uuid.New().String(), user.ID, now, now.Add(tm.accessTokenExpiry)),
	}
	return tm.sign(claims)
}

// GenerateHandshakeToken signs a reference to a stored handshake row
func (tm *TokenManager) GenerateHandshakeToken(h *models.HandshakeToken) (*IssuedToken, error) {
	claims := &models.TokenClaims{
		Type:             models.TokenTypeHandshake,
		UserID:           h.UserID,
		RememberMe:       h.RememberMe,
		RegisteredClaims: tm.registered(h.ID, h.UserID, h.CreatedAt, h.ExpiresAt),
	}
	return tm.sign(claims)
}

// ValidateAccessToken verifies signature, expiry and type
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeAccess)
}

// ValidateHandshakeToken verifies signature, expiry and type
func (tm *TokenManager) ValidateHandshakeToken(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeHandshake)
}

func (tm *TokenManager) registered(id, subject string, issuedAt, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        id,
		Issuer:    tokenIssuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
	}
}

func (tm *TokenManager) sign(claims *models.TokenClaims) (*IssuedToken, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}

	return &IssuedToken{
		Token:     tokenString,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (tm *TokenManager) validate(tokenString, wantType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return tm.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", models.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if claims.Type != wantType {
		return nil, fmt.Errorf("%w: unexpected token type %q", models.ErrUnauthorized, claims.Type)
	}
	if claims.ID == "" || claims.UserID == "" {
		return nil, fmt.Errorf("%w: incomplete claims", models.ErrUnauthorized)
	}

	return claims, nil
}
