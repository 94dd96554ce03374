package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it still carries our token, so a
// scan that outlived its TTL cannot free a lock taken over by another worker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ScanLock keeps two workers from scanning the same business at once.
type ScanLock struct {
	client *Client
	logger *zap.Logger
}

func NewScanLock(client *Client, logger *zap.Logger) *ScanLock {
	return &ScanLock{client: client, logger: logger}
}

func scanLockKey(businessID string) string {
	return fmt.Sprintf("lock:scan:%s", businessID)
}

// Acquire takes the lock for ttl. ok is false when another holder has it.
func (l *ScanLock) Acquire(ctx context.Context, businessID string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.rdb.SetNX(ctx, scanLockKey(businessID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("scan lock busy", zap.String("business_id", businessID))
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it.
func (l *ScanLock) Release(ctx context.Context, businessID, token string) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{scanLockKey(businessID)}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	if n == 0 {
		l.logger.Warn("scan lock expired before release", zap.String("business_id", businessID))
	}
	return nil
}
