package paycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mpontin/totem-orders/internal/redisx"
)

// RedisStore is the shared backend: real TTL, safe across multiple API
// processes. Preferred whenever REDIS_ADDR is configured.
type RedisStore struct {
	RDB *redis.Client
}

func (s *RedisStore) key(paymentID string) string {
	return fmt.Sprintf(redisx.KeyPaymentConfirmed, paymentID)
}

func (s *RedisStore) Put(ctx context.Context, paymentID string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.RDB.Set(ctx, s.key(paymentID), b, redisx.TTLPaymentConfirmed).Err()
}

func (s *RedisStore) Get(ctx context.Context, paymentID string) (*Record, error) {
	b, err := s.RDB.Get(ctx, s.key(paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, paymentID string) error {
	return s.RDB.Del(ctx, s.key(paymentID)).Err()
}

// Sweep is a no-op: Redis expires keys itself.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) int { return 0 }
