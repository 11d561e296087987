package dedup

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger is the shared Ledger for multi-instance deployments. Entries
// expire via key TTL; the tracked-count survives expiry as a plain counter.
type RedisLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLedger wraps an existing redis client.
func NewRedisLedger(rdb *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{rdb: rdb, ttl: ttl}
}

func urlKey(url string) string {
	return fmt.Sprintf("dedup:url:%x", sha1.Sum([]byte(url)))
}

const trackedCountKey = "dedup:tracked_total"

// Seen reports whether the URL has an unexpired ledger entry.
func (l *RedisLedger) Seen(ctx context.Context, url string) (bool, error) {
	_, err := l.rdb.Get(ctx, urlKey(url)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger read: %w", err)
	}
	return true, nil
}

// Record writes the entry with the ledger TTL. SetNX keeps the first owner.
func (l *RedisLedger) Record(ctx context.Context, url, clientID, topicID string) error {
	entry := Entry{
		OwnerClientID: clientID,
		TopicID:       topicID,
		DeliveredAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	created, err := l.rdb.SetNX(ctx, urlKey(url), payload, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("ledger write: %w", err)
	}
	if created {
		if err := l.rdb.Incr(ctx, trackedCountKey).Err(); err != nil {
			return fmt.Errorf("ledger counter: %w", err)
		}
	}
	return nil
}

// Count returns the lifetime number of tracked URLs.
func (l *RedisLedger) Count(ctx context.Context) (int64, error) {
	count, err := l.rdb.Get(ctx, trackedCountKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger count: %w", err)
	}
	return count, nil
}
