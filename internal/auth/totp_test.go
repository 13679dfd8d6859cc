package auth

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Bastion")
	require.NoError(t, err)
	return tm
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		tm, err := NewTOTPManager(make([]byte, length), "Bastion")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestTOTPManager_GenerateSecret(t *testing.T) {
	tm := newTestTOTPManager(t)

	gen, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, gen.Secret)
	assert.True(t, strings.HasPrefix(gen.OTPAuthURL, "otpauth://totp/Bastion:user@example.com"))
	require.True(t, strings.HasPrefix(gen.QRCode, "data:image/png;base64,"))
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(gen.QRCode, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	secret, err := tm.DecryptSecret(gen.Encrypted, gen.Nonce)
	require.NoError(t, err)
	assert.Equal(t, gen.Secret, secret)
}

func TestTOTPManager_DecryptSecret_Tampered(t *testing.T) {
	tm := newTestTOTPManager(t)

	ciphertext, nonce, err := tm.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xFF
	_, err = tm.DecryptSecret(tampered, nonce)
	assert.Error(t, err)

	wrongNonce := append([]byte(nil), nonce...)
	wrongNonce[0] ^= 0xFF
	_, err = tm.DecryptSecret(ciphertext, wrongNonce)
	assert.Error(t, err)

	other := newTestTOTPManager(t)
	_, err = other.DecryptSecret(ciphertext, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_VerifyCode_Skew(t *testing.T) {
	tm := newTestTOTPManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	tm.now = func() time.Time { return now }
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	tests := []struct {
		name   string
		offset time.Duration
		valid  bool
	}{
		{"current step", 0, true},
		{"one step behind", -30 * time.Second, true},
		{"two steps behind", -60 * time.Second, true},
		{"two steps ahead", 60 * time.Second, true},
		{"three steps behind", -90 * time.Second, false},
		{"three steps ahead", 90 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := now.Add(tt.offset)
			step, ok, err := tm.VerifyCode(secret, codeAt(t, secret, at))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, time.Unix(at.Unix()-at.Unix()%30, 0).UTC(), step)
			}
		})
	}
}

func TestTOTPManager_VerifyCode_RejectsMalformed(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	for _, code := range []string{"", "12345", "1234567", "12a456", "ABCDEFGH"} {
		_, ok, err := tm.VerifyCode(secret, code)
		assert.NoError(t, err, code)
		assert.False(t, ok, code)
	}
}

func TestTOTPManager_GenerateBackupCodes(t *testing.T) {
	tm := newTestTOTPManager(t)

	codes, err := tm.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, BackupCodeLength)
		assert.True(t, IsBackupCode(code), code)
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "I")
		seen[code] = true
	}
	assert.Len(t, seen, 10)
}

func TestHashBackupCode_Normalizes(t *testing.T) {
	assert.Equal(t, HashBackupCode("ABCD2345"), HashBackupCode(" abcd-2345 "))
	assert.NotEqual(t, HashBackupCode("ABCD2345"), HashBackupCode("ABCD2346"))
	assert.Len(t, HashBackupCode("ABCD2345"), 64)
}

func TestCodeShapes(t *testing.T) {
	assert.True(t, IsTOTPCode("012345"))
	assert.False(t, IsTOTPCode("01234"))
	assert.True(t, IsBackupCode("abcd-2345"))
	assert.False(t, IsBackupCode("ABCD0000"))
	assert.False(t, IsBackupCode("123456"))
}
