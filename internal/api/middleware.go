package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/redis"
	"github.com/lalithlochan/rxsync/internal/session"
)

// RateLimitMiddleware enforces limits per key. The keyFunc extracts the key
// from the request; an empty key bypasses the limiter.
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := time.Until(result.ResetAt).Seconds()
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(ErrorResponse{
					Type:   "rate_limit_exceeded",
					Title:  "Too Many Requests",
					Status: http.StatusTooManyRequests,
					Detail: "Refresh limit exceeded. Scheduled polling continues.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionKeyFunc keys manual refreshes by the signed-in role. Signed-out
// requests are not limited; the handler rejects them.
func SessionKeyFunc(sess *session.Session) func(*http.Request) string {
	return func(r *http.Request) string {
		if !sess.Authenticated() {
			return ""
		}
		return "refresh:" + string(sess.Role())
	}
}
