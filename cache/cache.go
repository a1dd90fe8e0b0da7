package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/vinayprograms/trialkit/logging"
)

// Config configures a Cache.
type Config struct {
	// Enabled turns the cache on. A disabled cache always misses.
	Enabled bool

	// TTL is how long an entry stays visible. Zero never expires.
	TTL time.Duration

	// MaxEntries bounds the entry count. Zero or less is unbounded.
	MaxEntries int

	// CostPer1KTokens prices saved tokens for Stats.EstimatedCostSaved.
	CostPer1KTokens float64
}

// Entry is one cached response.
type Entry struct {
	Key        string
	Payload    string
	TokenCount int
	ModelID    string
	CreatedAt  time.Time
	HitCount   int

	seq uint64 // insertion order, breaks CreatedAt ties
}

// Stats is a snapshot of cache activity.
type Stats struct {
	TotalRequests      int64   `json:"total_requests"`
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	TokensSaved        int64   `json:"tokens_saved"`
	EstimatedCostSaved float64 `json:"estimated_cost_saved"`
	Entries            int     `json:"entries"`
}

// HitRate returns Hits / TotalRequests, or 0 before any request.
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// Key returns the content address for a model and input.
func Key(model, input string) string {
	sum := sha256.Sum256([]byte(model + "::" + input))
	return hex.EncodeToString(sum[:])
}

// Cache is a TTL- and size-bounded response cache. It is safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry
	stats   Stats
	seq     uint64

	store  Store
	logger *logging.Logger

	nowFunc func() time.Time // for testing
}

// New builds a cache. When store is non-nil, existing entries are loaded
// from it; load failures are logged and the cache starts empty.
func New(cfg Config, store Store, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		store:   store,
		logger:  logger.WithComponent("cache"),
		nowFunc: time.Now,
	}
	if cfg.Enabled && store != nil {
		c.load()
	}
	return c
}

func (c *Cache) load() {
	loaded, err := c.store.Load(c.cfg.TTL, c.nowFunc())
	if err != nil {
		c.logger.Warn("cache load failed, starting empty", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	for _, e := range sortByCreated(loaded) {
		c.seq++
		e.seq = c.seq
		c.entries[e.Key] = e
	}
	evicted := c.enforceLimitLocked()
	if len(evicted) > 0 {
		c.persistLocked(nil, evicted)
	}
	c.logger.Info("cache loaded", map[string]interface{}{
		"entries": len(c.entries),
	})
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool {
	return c.cfg.Enabled
}

// Get looks up the response for model and input.
// An expired entry is removed and counted as a miss.
func (c *Cache) Get(model, input string) (payload string, tokens int, ok bool) {
	if !c.cfg.Enabled {
		return "", 0, false
	}
	key := Key(model, input)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++
	e, found := c.entries[key]
	if !found {
		c.stats.Misses++
		c.logger.CacheEvent("miss", key, nil)
		return "", 0, false
	}
	if c.expiredLocked(e, c.nowFunc()) {
		delete(c.entries, key)
		c.stats.Misses++
		c.logger.CacheEvent("expired", key, nil)
		c.persistLocked(nil, []string{key})
		return "", 0, false
	}

	e.HitCount++
	c.stats.Hits++
	c.stats.TokensSaved += int64(e.TokenCount)
	c.stats.EstimatedCostSaved += float64(e.TokenCount) / 1000 * c.cfg.CostPer1KTokens
	c.logger.CacheEvent("hit", key, map[string]interface{}{"tokens": e.TokenCount})
	return e.Payload, e.TokenCount, true
}

// Put stores a response, replacing any existing entry for the same key.
// If the cache then exceeds MaxEntries the oldest entry is evicted.
func (c *Cache) Put(model, input, payload string, tokens int) {
	if !c.cfg.Enabled {
		return
	}
	key := Key(model, input)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	e := &Entry{
		Key:        key,
		Payload:    payload,
		TokenCount: tokens,
		ModelID:    model,
		CreatedAt:  c.nowFunc(),
		seq:        c.seq,
	}
	c.entries[key] = e
	evicted := c.enforceLimitLocked()
	c.persistLocked(e, evicted)
}

// Clear drops every entry and removes the backing data.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	if c.store == nil {
		return
	}
	if err := c.store.Remove(); err != nil {
		c.logger.Warn("cache remove failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Len returns the current entry count, including entries that have expired
// but not yet been looked up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush writes the full entry set, including hit counts, to the store.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil || !c.cfg.Enabled {
		return nil
	}
	return c.store.Save(c.snapshotLocked())
}

// Close flushes and closes the store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	flushErr := c.Flush()
	if err := c.store.Close(); err != nil {
		return err
	}
	return flushErr
}

func (c *Cache) expiredLocked(e *Entry, now time.Time) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > c.cfg.TTL
}

// enforceLimitLocked evicts oldest entries until the bound holds.
func (c *Cache) enforceLimitLocked() []string {
	if c.cfg.MaxEntries <= 0 {
		return nil
	}
	var evicted []string
	for len(c.entries) > c.cfg.MaxEntries {
		var oldest *Entry
		for _, e := range c.entries {
			if oldest == nil || olderThan(e, oldest) {
				oldest = e
			}
		}
		delete(c.entries, oldest.Key)
		evicted = append(evicted, oldest.Key)
		c.logger.CacheEvent("evict", oldest.Key, nil)
	}
	return evicted
}

func olderThan(a, b *Entry) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.seq < b.seq
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// persistLocked pushes a change to the store. Incremental stores receive
// only the delta; others get the whole entry set.
func (c *Cache) persistLocked(put *Entry, deleted []string) {
	if c.store == nil {
		return
	}
	var err error
	if inc, ok := c.store.(IncrementalStore); ok {
		if put != nil {
			err = inc.Put(*put)
		}
		if err == nil && len(deleted) > 0 {
			err = inc.Delete(deleted...)
		}
	} else {
		err = c.store.Save(c.snapshotLocked())
	}
	if err != nil {
		c.logger.Warn("cache persist failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (c *Cache) snapshotLocked() map[string]Entry {
	out := make(map[string]Entry, len(c.entries))
	for k, e := range c.entries {
		out[k] = *e
	}
	return out
}
