package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sawpanic/protoreg/internal/optim"
)

type entry struct {
	res     optim.ProbeResult
	expires time.Time
}

// Memory is an in-process probe cache with a fixed TTL
type Memory struct {
	ttl     time.Duration
	entries map[string]entry
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemory creates an in-memory cache; ttl <= 0 keeps entries forever
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns a cached probe result if present and not expired
func (m *Memory) Get(_ context.Context, key string) (optim.ProbeResult, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return optim.ProbeResult{}, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return optim.ProbeResult{}, false
	}
	return e.res, true
}

// Put stores a probe result without its parameter snapshot
func (m *Memory) Put(_ context.Context, key string, res optim.ProbeResult) {
	res.Best.Params = optim.Params{}
	e := entry{res: res}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
