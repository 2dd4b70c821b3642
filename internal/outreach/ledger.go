package outreach

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger counts confirmed dispatches per campaign.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger creates a ledger whose counters expire after ttl.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func ledgerKey(campaignID string) string { return "dispatch:sent:" + campaignID }

// Record adds n confirmed dispatches.
func (l *RedisLedger) Record(ctx context.Context, campaignID string, n int) error {
	key := ledgerKey(campaignID)
	pipe := l.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(n))
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Sent returns the recorded count and whether anything was recorded.
func (l *RedisLedger) Sent(ctx context.Context, campaignID string) (int, bool, error) {
	n, err := l.client.Get(ctx, ledgerKey(campaignID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
