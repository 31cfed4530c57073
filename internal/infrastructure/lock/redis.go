package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
)

// unlockScript deletes the key only while it still holds our token
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// redisClient is the subset of go-redis the locker uses
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisConfig tunes the distributed locker
type RedisConfig struct {
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

// RedisLocker is a per-key lock shared by every instance using the same Redis
type RedisLocker struct {
	client redisClient
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisClient opens a go-redis client
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// NewRedisLocker creates a distributed locker
func NewRedisLocker(client redisClient, cfg RedisConfig, logger *zap.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "rental:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Acquire polls SET NX until the key is won or ctx is done. The lock expires
// after TTL if the holder dies without releasing it.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.cfg.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deleted, err := l.client.Eval(ctx, unlockScript, []string{redisKey}, token).Int64()
	if err != nil {
		l.logger.Error("Failed to release lock", zap.String("key", redisKey), zap.Error(err))
		return
	}
	if deleted == 0 {
		l.logger.Warn("Lock expired before release", zap.String("key", redisKey))
	}
}

var _ port.Locker = (*RedisLocker)(nil)
