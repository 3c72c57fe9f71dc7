package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/metrics"
	"loan-catalog/internal/models"
)

// Key identifies one cached source output.
type Key struct {
	Source string `json:"source"`
	Params string `json:"params"`
}

func (k Key) String() string {
	if k.Params == "" {
		return k.Source
	}
	return k.Source + "?" + k.Params
}

// Payload is the validated output of one source fetch.
type Payload struct {
	Records    []models.LoanRecord     `json:"records"`
	Validation models.ValidationCounts `json:"validation"`
}

// Entry is owned by the cache; callers receive copies.
type Entry struct {
	Key       Key           `json:"key"`
	Payload   Payload       `json:"payload"`
	FetchedAt time.Time     `json:"fetchedAt"`
	TTL       time.Duration `json:"ttl"`
}

func (e Entry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries      int     `json:"entries"`
	Expired      int     `json:"expired"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	StaleServed  int64   `json:"staleServed"`
	HitRate      float64 `json:"hitRate"`
	Remote       bool    `json:"remote"`
	RemoteErrors int64   `json:"remoteErrors"`
}

// Remote is a shared second tier behind the in-memory map. Errors are
// treated as misses.
type Remote interface {
	Load(ctx context.Context, key Key) (*Entry, error)
	Store(ctx context.Context, entry Entry) error
	Clear(ctx context.Context) (int, error)
}

// Cache keeps validated source payloads. Expired entries stay in memory so
// they can be served stale when the source is failing.
type Cache struct {
	mu        sync.RWMutex
	entries   map[Key]*Entry
	clearedAt time.Time

	remote Remote
	now    func() time.Time
	logger logger.Logger

	hits         int64
	misses       int64
	staleServed  int64
	remoteErrors int64
}

type Option func(*Cache)

// WithRemote adds a second tier.
func WithRemote(r Remote) Option {
	return func(c *Cache) { c.remote = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(log logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]*Entry),
		now:     time.Now,
		logger:  log.WithFields(map[string]interface{}{"component": "cache"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the payload for key while it is fresh.
func (c *Cache) Get(ctx context.Context, key Key) (Payload, bool) {
	entry, ok := c.GetEntry(ctx, key)
	return entry.Payload, ok
}

// GetEntry is Get returning the whole entry.
func (c *Cache) GetEntry(ctx context.Context, key Key) (Entry, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	var local Entry
	if ok {
		local = *entry
	}
	c.mu.RUnlock()

	if ok && !local.Expired(now) {
		c.hit(key)
		local.Payload = copyPayload(local.Payload)
		return local, true
	}

	if remote := c.loadRemote(ctx, key); remote != nil && !remote.Expired(now) {
		c.adopt(*remote)
		c.hit(key)
		out := *remote
		out.Payload = copyPayload(remote.Payload)
		return out, true
	}

	atomic.AddInt64(&c.misses, 1)
	metrics.CacheRequestsTotal.WithLabelValues(key.Source, "miss").Inc()
	return Entry{}, false
}

// GetStale returns the last stored entry for key regardless of its age.
func (c *Cache) GetStale(ctx context.Context, key Key) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	var local Entry
	if ok {
		local = *entry
	}
	c.mu.RUnlock()

	if !ok {
		remote := c.loadRemote(ctx, key)
		if remote == nil {
			return Entry{}, false
		}
		c.adopt(*remote)
		local = *remote
	}

	atomic.AddInt64(&c.staleServed, 1)
	metrics.CacheRequestsTotal.WithLabelValues(key.Source, "stale").Inc()
	local.Payload = copyPayload(local.Payload)
	return local, true
}

// Set stores payload under key. A non-positive ttl stores nothing.
func (c *Cache) Set(ctx context.Context, key Key, payload Payload, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := Entry{
		Key:       key,
		Payload:   copyPayload(payload),
		FetchedAt: c.now(),
		TTL:       ttl,
	}

	c.mu.Lock()
	c.entries[key] = &entry
	c.mu.Unlock()

	if c.remote == nil {
		return
	}
	if err := c.remote.Store(ctx, entry); err != nil {
		c.remoteFailed("store", key, err)
	}
}

// ClearAll drops every entry. The memory tier is always cleared; the
// returned error reports a remote tier that could not be cleared.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	c.mu.Lock()
	cleared := len(c.entries)
	c.entries = make(map[Key]*Entry)
	c.clearedAt = c.now()
	c.mu.Unlock()

	if c.remote == nil {
		return cleared, nil
	}
	n, err := c.remote.Clear(ctx)
	if err != nil {
		atomic.AddInt64(&c.remoteErrors, 1)
		metrics.CacheRemoteErrors.Inc()
		c.logger.Warn("remote cache clear failed", map[string]interface{}{"error": err.Error()})
		return cleared, fmt.Errorf("clear remote cache: %w", err)
	}
	if n > cleared {
		cleared = n
	}
	return cleared, nil
}

func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	entries := len(c.entries)
	expired := 0
	for _, e := range c.entries {
		if e.Expired(now) {
			expired++
		}
	}
	c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Entries:      entries,
		Expired:      expired,
		Hits:         hits,
		Misses:       misses,
		StaleServed:  atomic.LoadInt64(&c.staleServed),
		HitRate:      rate,
		Remote:       c.remote != nil,
		RemoteErrors: atomic.LoadInt64(&c.remoteErrors),
	}
}

// Snapshot returns copies of every entry held in memory, stale ones
// included, ordered by key.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		cp := *e
		cp.Payload = copyPayload(e.Payload)
		out = append(out, cp)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (c *Cache) hit(key Key) {
	atomic.AddInt64(&c.hits, 1)
	metrics.CacheRequestsTotal.WithLabelValues(key.Source, "hit").Inc()
}

func (c *Cache) loadRemote(ctx context.Context, key Key) *Entry {
	if c.remote == nil {
		return nil
	}
	entry, err := c.remote.Load(ctx, key)
	if err != nil {
		c.remoteFailed("load", key, err)
		return nil
	}
	if entry == nil {
		return nil
	}

	c.mu.RLock()
	clearedAt := c.clearedAt
	c.mu.RUnlock()
	// Entries written before the last ClearAll survive only if the remote
	// clear failed.
	if !clearedAt.IsZero() && entry.FetchedAt.Before(clearedAt) {
		return nil
	}
	return entry
}

// adopt copies a remote entry into memory unless a newer one landed first.
func (c *Cache) adopt(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.entries[entry.Key]; ok && !current.FetchedAt.Before(entry.FetchedAt) {
		return
	}
	c.entries[entry.Key] = &entry
}

func (c *Cache) remoteFailed(op string, key Key, err error) {
	atomic.AddInt64(&c.remoteErrors, 1)
	metrics.CacheRemoteErrors.Inc()
	c.logger.Warn("remote cache unavailable, using memory tier", map[string]interface{}{
		"operation": op,
		"key":       key.String(),
		"error":     err.Error(),
	})
}

func copyPayload(p Payload) Payload {
	out := Payload{Validation: p.Validation}
	if p.Records != nil {
		out.Records = make([]models.LoanRecord, len(p.Records))
		copy(out.Records, p.Records)
	}
	return out
}
