package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/agenda/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(ownerFrom(r.Context())))
	})
}

func TestRequireAuth_SkipInDevelopmentMode(t *testing.T) {
	cfg := config.Default()
	cfg.Security.APIToken = "secret"

	w := httptest.NewRecorder()
	RequireAuth(okHandler(), cfg).ServeHTTP(w, httptest.NewRequest("GET", "/api/proposals", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_Production(t *testing.T) {
	cfg := config.Default()
	cfg.Security.Mode = "production"
	cfg.Security.APIToken = "secret-token"
	handler := RequireAuth(okHandler(), cfg)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/proposals", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")

	req := httptest.NewRequest("GET", "/api/proposals", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("GET", "/api/proposals", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireOwner(t *testing.T) {
	handler := RequireOwner(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/proposals", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/proposals", nil)
	req.Header.Set(OwnerHeader, " u1 ")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}

func TestRateLimitMiddleware_PerOwner(t *testing.T) {
	limiter := NewRateLimiter(1, 2) // 1 req/s, burst 2
	handler := RequireOwner(RateLimitMiddleware(okHandler(), limiter))

	send := func(owner string) int {
		req := httptest.NewRequest("GET", "/api/runs", nil)
		req.Header.Set(OwnerHeader, owner)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("u1"))
	assert.Equal(t, http.StatusOK, send("u1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))

	assert.Equal(t, http.StatusOK, send("u2"), "other owners have their own bucket")
}
