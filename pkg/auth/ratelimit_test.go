package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewActorRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{Subject: "svc-adapter"}))
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestActorRateLimiterKeysByPrincipal(t *testing.T) {
	rl := NewActorRateLimiter(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, subject := range []string{"svc-a", "svc-b"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{Subject: subject}))
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, subject)
	}
}

func TestActorRateLimiterFallsBackToRemoteAddr(t *testing.T) {
	rl := NewActorRateLimiter(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	first.RemoteAddr = "10.1.1.1:9999"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	assert.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	second.RemoteAddr = "10.1.1.1:9999"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
