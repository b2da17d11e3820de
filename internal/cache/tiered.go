package cache

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/optim"
)

// Tiered consults a local cache before a shared one and back-fills it on hits
type Tiered struct {
	local  *Memory
	shared *Redis
}

// New builds the probe cache described by cfg: memory only, or memory in
// front of Redis when an address is configured
func New(cfg config.CacheConfig, logger zerolog.Logger) *Tiered {
	t := &Tiered{local: NewMemory(cfg.TTL)}
	if cfg.RedisAddr != "" {
		t.shared = NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.TTL, logger)
	}
	return t
}

// Get implements cv.Cache
func (t *Tiered) Get(ctx context.Context, key string) (optim.ProbeResult, bool) {
	if res, ok := t.local.Get(ctx, key); ok {
		return res, true
	}
	if t.shared == nil {
		return optim.ProbeResult{}, false
	}
	res, ok := t.shared.Get(ctx, key)
	if ok {
		t.local.Put(ctx, key, res)
	}
	return res, ok
}

// Put implements cv.Cache
func (t *Tiered) Put(ctx context.Context, key string, res optim.ProbeResult) {
	t.local.Put(ctx, key, res)
	if t.shared != nil {
		t.shared.Put(ctx, key, res)
	}
}

// Close releases the shared cache connection
func (t *Tiered) Close() error {
	if t.shared == nil {
		return nil
	}
	return t.shared.Close()
}
