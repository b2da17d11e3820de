package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/protoreg/internal/optim"
)

// Redis shares probe results between runs and machines. Calls go through a
// circuit breaker so an unreachable server degrades to cache misses.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewRedis connects to addr lazily; the first command opens the connection
func NewRedis(addr string, db int, ttl time.Duration, logger zerolog.Logger) *Redis {
	return NewRedisFromClient(redis.NewClient(&redis.Options{Addr: addr, DB: db}), ttl, logger)
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	r := &Redis{client: client, ttl: ttl, logger: logger}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-probe-cache",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Probe cache circuit breaker state changed")
		},
	})
	return r
}

// Get returns the stored result; errors and open breakers count as misses
func (r *Redis) Get(ctx context.Context, key string) (optim.ProbeResult, bool) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		r.logger.Debug().Err(err).Str("key", key).Msg("Probe cache read failed")
		return optim.ProbeResult{}, false
	}
	data, _ := out.([]byte)
	if data == nil {
		return optim.ProbeResult{}, false
	}

	var res optim.ProbeResult
	if err := json.Unmarshal(data, &res); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable probe cache entry")
		return optim.ProbeResult{}, false
	}
	return res, true
}

// Put stores the result with the configured TTL
func (r *Redis) Put(ctx context.Context, key string, res optim.ProbeResult) {
	data, err := json.Marshal(res)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Probe result not cacheable")
		return
	}
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, key, data, r.ttl).Err()
	})
	if err != nil {
		r.logger.Debug().Err(err).Str("key", key).Msg("Probe cache write failed")
	}
}

// State returns the circuit breaker state
func (r *Redis) State() gobreaker.State { return r.breaker.State() }

// Close closes the client
func (r *Redis) Close() error { return r.client.Close() }
