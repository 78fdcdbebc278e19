package cache

import (
	"context"
	"sync"

	"orderdesk/internal/model"
)

// MemoryCache is used when no redis address is configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]model.Order
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]model.Order)}
}

func (m *MemoryCache) Get(_ context.Context, query string) ([]model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders, ok := m.entries[query]
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]model.Order(nil), orders...), nil
}

func (m *MemoryCache) Set(_ context.Context, query string, orders []model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[query] = append([]model.Order(nil), orders...)
	return nil
}

func (m *MemoryCache) Invalidate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}
