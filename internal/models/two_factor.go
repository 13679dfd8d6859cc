package models

import (
	"time"
)

// TwoFactorSecret holds an identity's TOTP secret (AES-256-GCM encrypted) and
// the SHA-256 hashes of its unused backup codes.
type TwoFactorSecret struct {
	UserID          string
	SecretEncrypted []byte
	SecretNonce     []byte
	Enabled         bool
	BackupCodes     []string
	LastUsedAt      *time.Time
	EnabledAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TwoFactorSetup is returned once, when a secret is generated.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qr_code"`
	OTPAuthURL  string   `json:"otpauth_url"`
	BackupCodes []string `json:"backup_codes"`
}

// TwoFactorStatus describes an identity's second factor.
type TwoFactorStatus struct {
	Enabled              bool       `json:"enabled"`
	Pending              bool       `json:"pending"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	EnabledAt            *time.Time `json:"enabled_at,omitempty"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
}
