package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix — префикс ключей аренды в Redis.
	DefaultKeyPrefix = "dozilab:lease:"

	// DefaultTTL — срок аренды без продления.
	DefaultTTL = 2 * time.Minute
)

// renewScript продлевает ключ, только если им владеет этот токен.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript удаляет ключ, только если им владеет этот токен.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager — аренды в Redis: SET NX PX и продление Lua-скриптом.
type RedisManager struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ Manager = (*RedisManager)(nil)

// NewRedisManager создаёт менеджер аренд.
func NewRedisManager(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisManager{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Key возвращает ключ аренды развёртывания.
func (m *RedisManager) Key(deploymentID uuid.UUID) string {
	return m.prefix + deploymentID.String()
}

// Acquire реализует Manager. Аренда продлевается каждые ttl/3.
func (m *RedisManager) Acquire(ctx context.Context, deploymentID uuid.UUID, owner string) (Lease, error) {
	key := m.Key(deploymentID)
	token := owner + "/" + uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	h := newHeld(func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lease: %w", err)
		}
		return nil
	})
	go m.renew(h, key, token)
	return h, nil
}

func (m *RedisManager) renew(h *held, key, token string) {
	defer close(h.done)

	interval := m.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := renewScript.Run(ctx, m.client, []string{key}, token, m.ttl.Milliseconds()).Int64()
		cancel()

		switch {
		case err == nil && n == 1:
			lastRenewed = time.Now()
		case err == nil:
			m.logger.Warn("lease taken over", "key", key)
			h.markLost()
			return
		case time.Since(lastRenewed) >= m.ttl:
			m.logger.Warn("lease expired while redis unavailable", "key", key, "error", err)
			h.markLost()
			return
		default:
			m.logger.Debug("lease renewal failed", "key", key, "error", err)
		}
	}
}
