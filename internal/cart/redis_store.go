package cart

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCartTTL = 24 * time.Hour

// RedisStore хранит корзины в Redis под ключом cart:<userID>.
type RedisStore struct {
	client  redis.Cmdable
	baseTTL time.Duration
	opts    []Option
}

// NewRedisStore создаёт Store поверх Redis. ttl <= 0 заменяется значением по умолчанию.
func NewRedisStore(client redis.Cmdable, ttl time.Duration, opts ...Option) *RedisStore {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &RedisStore{client: client, baseTTL: ttl, opts: opts}
}

// Load читает корзину; отсутствие ключа означает пустую корзину.
func (s *RedisStore) Load(ctx context.Context, userID string) (*Cart, error) {
	data, err := s.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(s.opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return Restore(data, s.opts...)
}

// Save сохраняет корзину с TTL и случайным разбросом до пяти минут.
func (s *RedisStore) Save(ctx context.Context, userID string, c *Cart) error {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := s.client.Set(ctx, cacheKey(userID), data, s.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete удаляет корзину.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

var _ Store = (*RedisStore)(nil)
