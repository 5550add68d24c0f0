package cachestore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process LRU cache with per-entry TTLs. Expiry is lazy:
// an expired entry is dropped when read. It serves single-node deployments
// and tests; multi-node deployments use Redis.
type Memory struct {
	lru        *lru.Cache[string, memoryEntry]
	defaultTTL time.Duration

	hits      uint64
	misses    uint64
	evictions uint64

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewMemory creates a cache holding at most capacity entries with the
// given default TTL. Non-positive defaults fall back to DefaultTTL.
func NewMemory(capacity int, defaultTTL time.Duration) (*Memory, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	m := &Memory{
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	lruCache, err := lru.NewWithEvict[string, memoryEntry](capacity, func(string, memoryEntry) {
		atomic.AddUint64(&m.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	m.lru = lruCache
	return m, nil
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		atomic.AddUint64(&m.misses, 1)
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		m.lru.Remove(key)
		atomic.AddUint64(&m.misses, 1)
		return nil, false, nil
	}
	atomic.AddUint64(&m.hits, 1)
	return entry.value, true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.lru.Add(key, memoryEntry{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Close implements Cache.
func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}

// Stats returns hit/miss counters. Evictions count both capacity pressure
// and explicit removals by the LRU.
func (m *Memory) Stats() Stats {
	hits := atomic.LoadUint64(&m.hits)
	misses := atomic.LoadUint64(&m.misses)
	s := Stats{
		Items:     m.lru.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadUint64(&m.evictions),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
