// internal/idempotency/redis_store.go
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/models"
)

const keyPrefix = "idem:"

// RedisStore is the multi-instance RecordStore. SET NX gives the atomic
// absent-to-PROCESSING transition across processes, and Redis TTLs handle
// expiry natively.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) PutProcessing(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, errors.NewStorageError("marshal idempotency record", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return false, errors.NewStorageError("put idempotency record", errors.NewValidationError("record already expired"))
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+rec.Key, payload, ttl).Result()
	if err != nil {
		return false, errors.NewStorageError("put idempotency record", err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	payload, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, errors.NewNotFoundError("idempotency record", key)
	}
	if err != nil {
		return nil, errors.NewStorageError("get idempotency record", err)
	}

	var rec models.IdempotencyRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errors.NewStorageError("unmarshal idempotency record", err)
	}
	return &rec, nil
}

func (s *RedisStore) Complete(ctx context.Context, rec *models.IdempotencyRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.NewStorageError("marshal idempotency record", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, rec.Key)
	}
	if err := s.client.Set(ctx, keyPrefix+rec.Key, payload, ttl).Err(); err != nil {
		return errors.NewStorageError("complete idempotency record", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.NewStorageError("delete idempotency record", err)
	}
	return nil
}

// EvictExpired is a no-op: keys are written with a TTL and Redis expires
// them itself.
func (s *RedisStore) EvictExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
