package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)

// RedisIdempotencyStore implements IdempotencyStore on Redis. Records
// carry a TTL: processors stop redelivering events after days, not
// months, so expired markers are safe to drop.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store.
// ttl <= 0 defaults to 30 days.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client,
		prefix: "fieldkeep:idempotency:",
		ttl:    ttl,
	}
}

func (s *RedisIdempotencyStore) key(processor domain.Processor, rawEventID string) string {
	return s.prefix + string(processor) + ":" + rawEventID
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, processor domain.Processor, rawEventID string) (*IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, s.key(processor, rawEventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get idempotency record: %w", err)
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, rec *IdempotencyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.Processor, rec.RawEventID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis put idempotency record: %w", err)
	}
	return nil
}
