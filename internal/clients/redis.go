package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"smartshopai/provisioner/internal/config"
	"smartshopai/provisioner/internal/orchestrator"
)

const redisProbeName = "redis"

// releaseScript deletes the lock only while it still carries our token, so
// an expired lock re-acquired by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisConn is the interface RedisClient uses against Redis. It is
// implemented by the real go-redis client and by test doubles.
type redisConn interface {
	PingResult(ctx context.Context) (string, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	Close() error
}

// realRedisConn adapts *redis.Client to redisConn so tests can inject a
// fake without constructing go-redis command types.
type realRedisConn struct {
	client *redis.Client
}

func (r *realRedisConn) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

func (r *realRedisConn) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *realRedisConn) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *realRedisConn) Close() error {
	return r.client.Close()
}

// RedisClient provides the cross-process bootstrap lock and a health probe.
type RedisClient struct {
	cfg     config.RedisConfig
	cb      *gobreaker.CircuitBreaker
	newConn func() redisConn
}

// NewRedisClient creates a RedisClient. A go-redis client is built per
// Acquire and per Probe.
func NewRedisClient(cfg config.RedisConfig, cb *gobreaker.CircuitBreaker) *RedisClient {
	c := &RedisClient{cfg: cfg, cb: cb}
	c.newConn = func() redisConn {
		return &realRedisConn{
			client: redis.NewClient(&redis.Options{
				Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
				Password: cfg.Password,
				DB:       cfg.DB,
			}),
		}
	}
	return c
}

// Acquire takes the bootstrap lock with SET NX PX, storing runID as the
// owner token. It returns orchestrator.ErrLockHeld when another run owns the
// lock. The lock expires after LockTTL if release is never called.
func (c *RedisClient) Acquire(ctx context.Context, runID string) (func(context.Context) error, error) {
	conn := c.newConn()

	v, err := c.cb.Execute(func() (any, error) {
		ok, err := conn.SetNX(ctx, c.cfg.LockKey, runID, c.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", c.cfg.LockKey, err)
		}
		return ok, nil
	})
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, breakerErr(err)
	}
	if !v.(bool) {
		conn.Close() //nolint:errcheck
		return nil, orchestrator.ErrLockHeld
	}

	release := func(ctx context.Context) error {
		defer conn.Close() //nolint:errcheck
		ok, err := conn.CompareAndDelete(ctx, c.cfg.LockKey, runID)
		if err != nil {
			return fmt.Errorf("releasing %s: %w", c.cfg.LockKey, err)
		}
		if !ok {
			return fmt.Errorf("releasing %s: lock expired before release", c.cfg.LockKey)
		}
		return nil
	}
	return release, nil
}

// Probe sends a PING command to Redis and validates the PONG response. The call
// is wrapped in the circuit breaker; after 3 consecutive failures the breaker
// opens and subsequent calls return immediately with "circuit open".
func (c *RedisClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		conn := c.newConn()
		defer conn.Close() //nolint:errcheck

		val, err := conn.PingResult(ctx)
		if err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return nil, fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil, nil
	})

	return probeResult(redisProbeName, start, err)
}
