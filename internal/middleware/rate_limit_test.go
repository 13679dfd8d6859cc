package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = addr
	return req
}

func TestGlobalRateLimit_RejectsOverBudget(t *testing.T) {
	h := GlobalRateLimit(3, time.Minute, &pkghttp.IPConfig{})(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("203.0.113.7:1000"))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("203.0.113.7:1001"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// other addresses keep their own budget
	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("198.51.100.9:1000"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGlobalRateLimit_KeysOnForwardedAddressBehindTrustedProxy(t *testing.T) {
	cfg := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	h := GlobalRateLimit(1, time.Minute, cfg)(okHandler())

	for _, client := range []string{"203.0.113.7", "198.51.100.9"} {
		req := requestFrom("10.0.0.1:443")
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, client)
	}
}

func TestGlobalRateLimit_DisabledPassesThrough(t *testing.T) {
	h := GlobalRateLimit(0, time.Minute, nil)(okHandler())

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("203.0.113.7:1000"))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
