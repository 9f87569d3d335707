package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) *RateLimiter {
	t.Helper()
	client, _ := setupTestRedis(t)
	return NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  limit,
		Window: window,
	})
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "refresh:patient")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "refresh:patient")
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "refresh:patient")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return start }
	limiter.Allow(ctx, "refresh:patient")

	limiter.now = func() time.Time { return start.Add(30 * time.Second) }
	limiter.Allow(ctx, "refresh:patient")
	if result, _ := limiter.Allow(ctx, "refresh:patient"); result.Allowed {
		t.Fatal("third request inside the window should be blocked")
	}

	limiter.now = func() time.Time { return start.Add(61 * time.Second) }
	result, err := limiter.Allow(ctx, "refresh:patient")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("oldest request left the window; should be allowed")
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "refresh:patient")
	}

	result, _ := limiter.Allow(ctx, "refresh:pharmacy")
	if !result.Allowed {
		t.Fatal("pharmacy key should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter := setupTestRateLimiter(t, 10, time.Minute)
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "refresh:patient", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 5 {
		t.Fatalf("expected allowed with 5 remaining, got %+v", result)
	}

	result, _ = limiter.AllowN(ctx, "refresh:patient", 6)
	if result.Allowed {
		t.Fatal("should be blocked")
	}
}
