package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestScanLock_Exclusive(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	lock := NewScanLock(client, zap.NewNop())
	ctx := context.Background()

	token, ok, err := lock.Acquire(ctx, "biz-1", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("first acquire: token=%q ok=%v err=%v", token, ok, err)
	}

	if _, ok, err := lock.Acquire(ctx, "biz-1", time.Minute); err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := lock.Acquire(ctx, "biz-2", time.Minute); !ok {
		t.Fatal("other business should not be blocked")
	}

	if err := lock.Release(ctx, "biz-1", token); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, ok, _ := lock.Acquire(ctx, "biz-1", time.Minute); !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestScanLock_StaleTokenCannotRelease(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	lock := NewScanLock(client, zap.NewNop())
	ctx := context.Background()

	stale, _, _ := lock.Acquire(ctx, "biz-1", time.Second)
	mr.FastForward(2 * time.Second)

	fresh, ok, err := lock.Acquire(ctx, "biz-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}

	if err := lock.Release(ctx, "biz-1", stale); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got, _ := mr.Get(scanLockKey("biz-1")); got != fresh {
		t.Errorf("stale release removed the new holder's lock, got %q", got)
	}
}
