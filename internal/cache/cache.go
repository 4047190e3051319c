// Package cache holds approved answers keyed by session and normalized
// question so repeated questions get the same answer.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/autofill/internal/model"
)

const stripeCount = 64

// Backing persists cache entries beyond the process lifetime.
type Backing interface {
	GetCacheEntry(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry model.CacheEntry) error
}

// Cache is an in-memory answer cache with optional write-through backing.
// Reads are concurrent. Writes to the same key are serialized and the last
// write wins; writes to different keys never contend on a shared lock
// beyond the map update itself.
type Cache struct {
	mu      sync.RWMutex
	entries map[model.CacheKey]model.CacheEntry
	stripes [stripeCount]sync.Mutex
	backing Backing
	nowFunc func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithBacking enables write-through persistence and read-through on miss.
func WithBacking(b Backing) Option {
	return func(c *Cache) { c.backing = b }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[model.CacheKey]model.CacheEntry),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) stripe(key model.CacheKey) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.SessionID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.NormalizedQuestion))
	return &c.stripes[h.Sum32()%stripeCount]
}

// Get returns the cached answer for key. On a memory miss the backing store
// is consulted and a hit there is kept in memory.
func (c *Cache) Get(ctx context.Context, key model.CacheKey) (model.CacheEntry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || c.backing == nil {
		return e, ok
	}

	stored, err := c.backing.GetCacheEntry(ctx, key)
	if err != nil {
		zap.L().Warn("cache: backing read failed",
			zap.String("session", key.SessionID),
			zap.Error(err),
		)
		return model.CacheEntry{}, false
	}
	if stored == nil {
		return model.CacheEntry{}, false
	}

	mu := c.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent Put is newer than what was stored.
	if cur, ok := c.entries[key]; ok {
		return cur, true
	}
	c.entries[key] = *stored
	return *stored, true
}

// Put records answer for key and returns the stored entry.
func (c *Cache) Put(ctx context.Context, key model.CacheKey, answer string) model.CacheEntry {
	mu := c.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	e := model.CacheEntry{Key: key, Answer: answer, UpdatedAt: c.nowFunc()}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.backing != nil {
		if err := c.backing.PutCacheEntry(ctx, e); err != nil {
			zap.L().Warn("cache: backing write failed",
				zap.String("session", key.SessionID),
				zap.Error(err),
			)
		}
	}
	return e
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DropSession removes a session's entries from memory.
func (c *Cache) DropSession(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.SessionID == sessionID {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
