// Package cachestore provides a byte-oriented cache with TTL semantics,
// backed either by an in-process LRU or by Redis. Callers own key naming
// and payload encoding.
package cachestore

import (
	"context"
	"time"
)

// Cache is the read-through cache boundary. Get distinguishes a miss from
// an error; expired entries are misses. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the cached payload, or ok=false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores a payload under key for at most ttl. A non-positive ttl
	// stores with the implementation's default lifetime.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete drops a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// DefaultTTL is the fallback entry lifetime when Set receives a
// non-positive ttl.
const DefaultTTL = 5 * time.Minute

// Stats reports cache effectiveness counters.
type Stats struct {
	Items     int     `json:"items"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}
