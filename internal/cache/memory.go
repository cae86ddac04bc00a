// Package cache holds the idempotency result caches used by the orchestrator.
package cache

import (
	"context"
	"sync"

	"github.com/Harshitk-cp/reconledger/internal/domain"
)

// MemoryCache is a process-local ResultCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]domain.AgentResult
}

// NewMemoryCache returns an empty process-local cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]domain.AgentResult)}
}

// Get returns a copy of the cached result for key.
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.AgentResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

// Set stores a copy of result under key.
func (c *MemoryCache) Set(_ context.Context, key string, result *domain.AgentResult) error {
	if result == nil {
		return &domain.ValidationError{Field: "result", Reason: "must not be nil"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *result
	return nil
}

func (c *MemoryCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}
