package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	// TOTPSkew is the number of time steps accepted either side of now
	TOTPSkew = 2

	BackupCodeLength = 8
	// no 0/O, 1/I/L
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// GeneratedSecret is a freshly minted TOTP secret, encrypted for storage
// and rendered for enrollment.
type GeneratedSecret struct {
	Encrypted  []byte
	Nonce      []byte
	Secret     string
	OTPAuthURL string
	QRCode     string // PNG data URL
}

// TOTPManager handles TOTP generation, secret encryption and code checks
type TOTPManager struct {
	encryptionKey []byte // AES-256
	issuer        string
	now           func() time.Time
}

// NewTOTPManager creates a new TOTP manager. encryptionKey must be 32 bytes.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// GenerateSecret creates a secret for accountName with its QR enrollment payload
func (tm *TOTPManager) GenerateSecret(accountName string) (*GeneratedSecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &GeneratedSecret{
		Encrypted:  encrypted,
		Nonce:      nonce,
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
func (tm *TOTPManager) EncryptSecret(secret []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// VerifyCode checks a 6-digit code against secret within ±TOTPSkew steps.
// It returns the start of the matched step so callers can refuse a step
// that is not newer than the last accepted one.
func (tm *TOTPManager) VerifyCode(secret, code string) (time.Time, bool, error) {
	code = strings.TrimSpace(code)
	if !IsTOTPCode(code) {
		return time.Time{}, false, nil
	}

	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	now := tm.now()
	for offset := -TOTPSkew; offset <= TOTPSkew; offset++ {
		at := now.Add(time.Duration(offset*totpPeriod) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("failed to generate TOTP code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return stepStart(at), true, nil
		}
	}

	return time.Time{}, false, nil
}

func stepStart(t time.Time) time.Time {
	return time.Unix(t.Unix()-t.Unix()%totpPeriod, 0).UTC()
}

// GenerateBackupCodes returns count random 8-character backup codes
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	max := big.NewInt(int64(len(backupCodeCharset)))

	codes := make([]string, count)
	for i := range codes {
		code := make([]byte, BackupCodeLength)
		for j := range code {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			code[j] = backupCodeCharset[n.Int64()]
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// HashBackupCode returns the hex SHA-256 of a normalized backup code
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// NormalizeBackupCode upper-cases and strips separators users tend to type
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// IsTOTPCode reports whether code looks like a 6-digit time-based code
func IsTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsBackupCode reports whether code looks like a backup code
func IsBackupCode(code string) bool {
	code = NormalizeBackupCode(code)
	if len(code) != BackupCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(backupCodeCharset, c) {
			return false
		}
	}
	return true
}
