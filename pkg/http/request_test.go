package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		proxies    []string
		nilConfig  bool
		want       string
	}{
		{
			name:       "direct client ignores forwarding headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			xRealIP:    "192.168.1.1",
			proxies:    []string{"10.0.0.0/8", "127.0.0.1/32"},
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses first forwarded address",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 203.0.113.43, 10.0.0.5",
			proxies:    []string{"10.0.0.0/8"},
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.5:54321",
			xRealIP:    "203.0.113.99",
			proxies:    []string{"10.0.0.0/8"},
			want:       "203.0.113.99",
		},
		{
			name:       "ipv6 trusted proxy",
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::1",
			proxies:    []string{"::1/128"},
			want:       "2001:db8::1",
		},
		{
			name:       "nil config trusts only the peer",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			nilConfig:  true,
			want:       "203.0.113.10",
		},
		{
			name:       "invalid cidr is ignored",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			proxies:    []string{"invalid-cidr-range"},
			want:       "203.0.113.10",
		},
		{
			name:       "spoofed localhost from untrusted peer",
			remoteAddr: "203.0.113.10:54321",
			xff:        "127.0.0.1, 203.0.113.10",
			proxies:    []string{"10.0.0.0/8"},
			want:       "203.0.113.10",
		},
		{
			name:       "garbage forwarded entries are skipped",
			remoteAddr: "10.0.0.5:1",
			xff:        "not-an-ip, 198.51.100.4",
			proxies:    []string{"10.0.0.0/8"},
			want:       "198.51.100.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			var cfg *pkghttp.IPConfig
			if !tt.nilConfig {
				cfg = &pkghttp.IPConfig{TrustedProxies: tt.proxies}
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, cfg))
		})
	}
}

func TestUserAgent_Truncates(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", 2000))

	assert.Len(t, pkghttp.UserAgent(req), pkghttp.MaxUserAgentLength)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := pkghttp.BearerToken(req)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.co"}`))
		var dst body
		require.NoError(t, pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst, 1024))
		assert.Equal(t, "a@b.co", dst.Email)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.co","admin":true}`))
		var dst body
		assert.Error(t, pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst, 1024))
	})

	t.Run("trailing data", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.co"}{}`))
		var dst body
		assert.Error(t, pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst, 1024))
	})

	t.Run("too large", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"`+strings.Repeat("a", 100)+`"}`))
		var dst body
		err := pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst, 16)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(""))
		var dst body
		err := pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst, 1024)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})
}
