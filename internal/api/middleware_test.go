package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/redis"
	"github.com/lalithlochan/rxsync/internal/session"
)

func TestSessionKeyFunc(t *testing.T) {
	sess := session.New(zap.NewNop())
	keyFunc := SessionKeyFunc(sess)
	req := httptest.NewRequest("POST", "/v1/notifications/refresh", nil)

	if got := keyFunc(req); got != "" {
		t.Errorf("signed-out key should be empty, got %q", got)
	}

	sess.Login("tok", session.RolePharmacy)
	if got := keyFunc(req); got != "refresh:pharmacy" {
		t.Errorf("expected refresh:pharmacy, got %q", got)
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RateLimitMiddleware(nil, nil, func(*http.Request) string { return "k" })(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRefreshIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	_, mr := setupIdempotency(t)

	client, err := redis.New(t.Context(), redis.Config{Host: mr.Host(), Port: atoi(t, mr.Port())}, zap.NewNop())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{Limit: 2, Window: time.Minute})
	env.router = chi.NewRouter()
	env.handler.Mount(env.router, limiter)
	env.sess.Login("tok", session.RolePatient)

	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodPost, "/v1/notifications/refresh", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := env.do(http.MethodPost, "/v1/notifications/refresh", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if env.notifs.fetchCalls != 2 {
		t.Errorf("limited refresh must not fetch, got %d fetches", env.notifs.fetchCalls)
	}

	// Other routes are not limited.
	if rec := env.do(http.MethodGet, "/v1/notifications", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
