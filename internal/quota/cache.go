package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Dozilab/internal/domain"
)

const (
	// DefaultCacheTTL — время жизни записи об использовании.
	DefaultCacheTTL = 5 * time.Minute

	usageKeyPrefix = "openstack:usage:"
)

// RedisCache — кеш использования в Redis (JSON по ключу openstack:usage:<project>).
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache создаёт кеш.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func usageKey(projectID string) string {
	return usageKeyPrefix + projectID
}

// Get реализует Cache.
func (c *RedisCache) Get(ctx context.Context, projectID string) (*domain.ProjectUsage, error) {
	data, err := c.client.Get(ctx, usageKey(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}

	var u domain.ProjectUsage
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &u, nil
}

// Set реализует Cache.
func (c *RedisCache) Set(ctx context.Context, u *domain.ProjectUsage) error {
	cp := *u
	if cp.FetchedAt.IsZero() {
		cp.FetchedAt = c.now()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	if err := c.client.Set(ctx, usageKey(u.ProjectID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	return nil
}

// Delete реализует Cache.
func (c *RedisCache) Delete(ctx context.Context, projectID string) error {
	if err := c.client.Del(ctx, usageKey(projectID)).Err(); err != nil {
		return fmt.Errorf("delete usage: %w", err)
	}
	return nil
}
