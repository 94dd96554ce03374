package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, func()) {
	t.Helper()
	client, _, cleanup := setupTestRedis(t)

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  limit,
		Window: window,
	})
	return limiter, cleanup
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 5, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "biz-1")
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
	limiter, cleanup := setupTestRateLimiter(t, 3, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "biz-1")
		if err != nil || !result.Allowed {
			t.Fatalf("request %d should be allowed: %v", i, err)
		}
	}

	result, err := limiter.Allow(ctx, "biz-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
	if !result.ResetAt.After(time.Now()) {
		t.Error("reset time should be in the future")
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 2, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Allow(ctx, "key-a"); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	result, err := limiter.Allow(ctx, "key-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("key-b should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_BurstWithinOneNanosecond(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 50, time.Minute)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if result, err := limiter.Allow(ctx, "burst"); err != nil || !result.Allowed {
			t.Fatalf("request %d should be allowed: %v", i, err)
		}
	}
	if result, _ := limiter.Allow(ctx, "burst"); result.Allowed {
		t.Error("every request must be counted even when timestamps collide")
	}
}
