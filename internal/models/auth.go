package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim
const (
	TokenTypeAccess    = "access"
	TokenTypeHandshake = "handshake"
)

// TokenClaims are the JWT claims for access and handshake tokens. The
// registered ID claim is the session (or handshake) reference.
type TokenClaims struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	RememberMe bool   `json:"remember_me,omitempty"`
	jwt.RegisteredClaims
}

// DeviceInfo describes the client that presented a credential.
type DeviceInfo struct {
	IPAddress  string `json:"ip_address"`
	UserAgent  string `json:"user_agent"`
	DeviceName string `json:"device_name,omitempty"`
}
