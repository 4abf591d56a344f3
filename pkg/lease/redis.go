package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTTL bounds how long a crashed holder keeps a key.
const DefaultTTL = 30 * time.Second

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the key only when it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisConfig configures a Redis locker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Redis is a Locker backed by SET NX PX with token-checked release. Held
// keys are renewed in the background until released.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

var _ engine.Locker = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return newRedis(client, cfg, logger), nil
}

func newRedis(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *Redis {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "froyo:lease:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis-lease").Logger(),
	}
}

// TryAcquire implements engine.Locker.
func (r *Redis) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.renew(redisKey, token, stop)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn().Err(err).Str("key", key).Msg("Failed to release lease")
			}
		})
	}
	return release, true, nil
}

func (r *Redis) renew(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logger.Warn().Err(err).Str("key", redisKey).Msg("Failed to renew lease")
				continue
			}
			if n == 0 {
				r.logger.Error().Str("key", redisKey).Msg("Lease lost before release")
				return
			}
		}
	}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
