// Package window maintains per-sensor rolling windows of recent readings.
// The hot path is an in-process sharded buffer; on a cold start windows are
// rehydrated from the cache store and, failing that, from the durable store.
package window

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/moolen/driftwatch/internal/cachestore"
	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/models"
	"github.com/moolen/driftwatch/internal/storage"
)

const shardCount = 16

// Defaults for the window configuration.
const (
	DefaultSize         = 24
	DefaultCapacity     = 288 // a day of five-minute readings
	DefaultHorizon      = 24 * time.Hour
	DefaultStoreTimeout = 2 * time.Second
)

// Config bounds the per-sensor buffers and the fallback tiers.
type Config struct {
	// Size is the reading count at which the in-memory buffer alone
	// serves a window without consulting the fallback tiers.
	Size int
	// Capacity bounds the per-sensor buffer; the oldest readings fall off.
	Capacity int
	// Horizon is the default lookback when GetWindow receives none.
	Horizon time.Duration
	// CacheTTL is the lifetime of write-through cache store entries.
	CacheTTL time.Duration
	// StoreTimeout bounds the durable store fallback.
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.Capacity < c.Size {
		c.Capacity = DefaultCapacity
	}
	if c.Horizon <= 0 {
		c.Horizon = DefaultHorizon
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = cachestore.DefaultTTL
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	return c
}

// Stats reports how window lookups were served.
type Stats struct {
	BufferHits  uint64 `json:"buffer_hits"`
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
	StoreLoads  uint64 `json:"store_loads"`
	StoreErrors uint64 `json:"store_errors"`
}

// Cache is the sharded window cache. Sensors map to shards by FNV hash,
// so appends for different sensors rarely contend.
type Cache struct {
	cfg    Config
	store  storage.Store
	remote cachestore.Cache
	group  singleflight.Group
	logger *logging.Logger
	now    func() time.Time

	shards [shardCount]shard

	bufferHits  atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	storeLoads  atomic.Uint64
	storeErrors atomic.Uint64
}

type shard struct {
	mu      sync.RWMutex
	sensors map[string]*buffer
}

// New builds a window cache over the given fallback tiers. Both store and
// remote may be nil, in which case the corresponding tier is skipped.
func New(cfg Config, store storage.Store, remote cachestore.Cache) *Cache {
	c := &Cache{
		cfg:    cfg.withDefaults(),
		store:  store,
		remote: remote,
		logger: logging.GetLogger("window"),
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i].sensors = make(map[string]*buffer)
	}
	return c
}

func (c *Cache) shardFor(sensorID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(sensorID))
	return &c.shards[h.Sum32()%shardCount]
}

func windowKey(sensorID string) string {
	return "window:" + sensorID
}

// Append inserts a reading into the sensor's buffer, keeping it
// time-ordered. A reading with an already-buffered timestamp replaces the
// old one. The updated window is written through to the cache store
// best-effort.
func (c *Cache) Append(ctx context.Context, reading models.Reading) {
	since := c.now().Add(-c.cfg.Horizon)

	s := c.shardFor(reading.SensorID)
	s.mu.Lock()
	buf, ok := s.sensors[reading.SensorID]
	if !ok {
		buf = &buffer{}
		s.sensors[reading.SensorID] = buf
	}
	buf.insert(reading, c.cfg.Capacity)
	snapshot := buf.since(since)
	s.mu.Unlock()

	c.writeThrough(ctx, reading.SensorID, snapshot)
}

// GetWindow returns the sensor's readings within the horizon, oldest
// first. It serves from the in-memory buffer when that holds enough
// points, otherwise falls back to the cache store and then the durable
// store. Store failures degrade to whatever is buffered.
func (c *Cache) GetWindow(ctx context.Context, sensorID string, horizon time.Duration) ([]models.Reading, error) {
	if horizon <= 0 {
		horizon = c.cfg.Horizon
	}
	since := c.now().Add(-horizon)

	local := c.buffered(sensorID, since)
	if len(local) >= c.cfg.Size {
		c.bufferHits.Add(1)
		return local, nil
	}

	if merged, ok := c.fromRemote(ctx, sensorID, local, since); ok {
		return merged, nil
	}

	return c.fromStore(ctx, sensorID, local, since)
}

func (c *Cache) buffered(sensorID string, since time.Time) []models.Reading {
	s := c.shardFor(sensorID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.sensors[sensorID]
	if !ok {
		return nil
	}
	return buf.since(since)
}

func (c *Cache) fromRemote(ctx context.Context, sensorID string, local []models.Reading, since time.Time) ([]models.Reading, bool) {
	if c.remote == nil {
		return nil, false
	}
	payload, ok, err := c.remote.Get(ctx, windowKey(sensorID))
	if err != nil {
		c.logger.Warn("cache store lookup for %s failed: %v", sensorID, err)
		return nil, false
	}
	if !ok {
		c.cacheMisses.Add(1)
		return nil, false
	}
	var cached []models.Reading
	if err := json.Unmarshal(payload, &cached); err != nil {
		c.logger.Warn("dropping undecodable cache entry for %s: %v", sensorID, err)
		c.cacheMisses.Add(1)
		return nil, false
	}
	merged := merge(cached, local, since)
	if len(merged) < c.cfg.Size {
		c.cacheMisses.Add(1)
		return nil, false
	}
	c.cacheHits.Add(1)
	c.seed(sensorID, merged)
	return merged, true
}

func (c *Cache) fromStore(ctx context.Context, sensorID string, local []models.Reading, since time.Time) ([]models.Reading, error) {
	if c.store == nil {
		return local, nil
	}

	v, err, _ := c.group.Do(sensorID, func() (interface{}, error) {
		// Detached from the caller so collapsed waiters do not fail
		// when the first request is cancelled.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
		defer cancel()
		return c.store.LoadWindow(loadCtx, sensorID, since)
	})
	if err != nil {
		c.storeErrors.Add(1)
		c.logger.Warn("window hydration for %s failed, serving %d buffered readings: %v", sensorID, len(local), err)
		return local, nil
	}
	c.storeLoads.Add(1)

	merged := merge(v.([]models.Reading), c.buffered(sensorID, since), since)
	c.seed(sensorID, merged)
	c.writeThrough(ctx, sensorID, merged)
	return merged, nil
}

// seed backfills the in-memory buffer with hydrated readings. Buffered
// readings win on timestamp collisions because insert keeps the existing
// entry only when the incoming one equals it last.
func (c *Cache) seed(sensorID string, readings []models.Reading) {
	s := c.shardFor(sensorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.sensors[sensorID]
	if !ok {
		buf = &buffer{}
		s.sensors[sensorID] = buf
	}
	for _, r := range readings {
		buf.backfill(r, c.cfg.Capacity)
	}
}

func (c *Cache) writeThrough(ctx context.Context, sensorID string, snapshot []models.Reading) {
	if c.remote == nil || len(snapshot) == 0 {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("failed to encode window for %s: %v", sensorID, err)
		return
	}
	if err := c.remote.Set(ctx, windowKey(sensorID), payload, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("failed to write window for %s to cache store: %v", sensorID, err)
	}
}

// Stats returns a snapshot of the lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{
		BufferHits:  c.bufferHits.Load(),
		CacheHits:   c.cacheHits.Load(),
		CacheMisses: c.cacheMisses.Load(),
		StoreLoads:  c.storeLoads.Load(),
		StoreErrors: c.storeErrors.Load(),
	}
}

// buffer holds one sensor's readings ordered by timestamp ascending.
type buffer struct {
	readings []models.Reading
}

// insert places r by timestamp, replacing an entry with the same
// timestamp. When the buffer exceeds capacity the oldest entry is dropped.
func (b *buffer) insert(r models.Reading, capacity int) {
	b.put(r, capacity, true)
}

// backfill is insert for hydrated data: an existing entry with the same
// timestamp is kept, so fresher appends are never overwritten by older
// store rows.
func (b *buffer) backfill(r models.Reading, capacity int) {
	b.put(r, capacity, false)
}

func (b *buffer) put(r models.Reading, capacity int, replace bool) {
	i := sort.Search(len(b.readings), func(j int) bool {
		return !b.readings[j].Timestamp.Before(r.Timestamp)
	})
	if i < len(b.readings) && b.readings[i].Timestamp.Equal(r.Timestamp) {
		if replace {
			b.readings[i] = r
		}
		return
	}
	b.readings = append(b.readings, models.Reading{})
	copy(b.readings[i+1:], b.readings[i:])
	b.readings[i] = r
	if len(b.readings) > capacity {
		b.readings = append(b.readings[:0:0], b.readings[1:]...)
	}
}

// since returns a copy of the readings at or after the cutoff.
func (b *buffer) since(cutoff time.Time) []models.Reading {
	i := sort.Search(len(b.readings), func(j int) bool {
		return !b.readings[j].Timestamp.Before(cutoff)
	})
	if i == len(b.readings) {
		return nil
	}
	out := make([]models.Reading, len(b.readings)-i)
	copy(out, b.readings[i:])
	return out
}

// merge combines hydrated base readings with buffered overlay readings,
// overlay winning on duplicate timestamps, result ordered oldest first and
// bounded to the cutoff.
func merge(base, overlay []models.Reading, since time.Time) []models.Reading {
	byTime := make(map[int64]models.Reading, len(base)+len(overlay))
	for _, r := range base {
		byTime[r.Timestamp.UnixNano()] = r
	}
	for _, r := range overlay {
		byTime[r.Timestamp.UnixNano()] = r
	}
	out := make([]models.Reading, 0, len(byTime))
	for _, r := range byTime {
		if r.Timestamp.Before(since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
