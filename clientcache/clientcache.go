/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package clientcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultPurgeInterval = time.Minute
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

type entry struct {
	client     datastore.TableClient
	createdAt  time.Time
	lastAccess time.Time
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Cache hands out one client per table name and evicts clients that have not
// been used for the TTL.
type Cache struct {
	svc           datastore.TableService
	ttl           time.Duration
	purgeInterval time.Duration
	clock         Clock
	logger        *zap.Logger
	ensureTables  bool

	metricsReg    prometheus.Registerer
	metricsPrefix string
	metrics       *cacheMetrics

	mu      sync.Mutex
	entries map[string]*entry

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long an unused client stays cached.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithPurgeInterval sets how often the background loop purges.
func WithPurgeInterval(d time.Duration) Option {
	return func(c *Cache) { c.purgeInterval = d }
}

// WithClock sets the time source for entry ages.
func WithClock(clock Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithEnsureTables makes Get create a table the first time its client is
// built.
func WithEnsureTables(ensure bool) Option {
	return func(c *Cache) { c.ensureTables = ensure }
}

// WithMetrics exposes the cache counters on reg, labelled with prefix.
func WithMetrics(reg prometheus.Registerer, prefix string) Option {
	return func(c *Cache) {
		c.metricsReg = reg
		c.metricsPrefix = prefix
	}
}

// New creates a cache over svc. It returns an error if metrics registration
// fails.
func New(svc datastore.TableService, opts ...Option) (*Cache, error) {
	c := &Cache{
		svc:           svc,
		ttl:           DefaultTTL,
		purgeInterval: DefaultPurgeInterval,
		clock:         SystemClock,
		logger:        zap.NewNop(),
		entries:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl <= 0 {
		return nil, fmt.Errorf("client cache ttl must be positive, got %s", c.ttl)
	}
	if c.metricsReg != nil && c.metricsPrefix != "" {
		m, err := newCacheMetrics(c.metricsReg, c.metricsPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to register client cache metrics: %w", err)
		}
		c.metrics = m
	}
	return c, nil
}

// Get returns the client for table, building it on first use. With
// WithEnsureTables the table is created before the client is cached; if that
// fails nothing is cached.
func (c *Cache) Get(ctx context.Context, table string) (datastore.TableClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if e, ok := c.entries[table]; ok {
		if !c.expired(e, now) {
			e.lastAccess = now
			c.hits.Add(1)
			c.metrics.recordHit()
			return e.client, nil
		}
		c.evictLocked(table, "expired")
	}

	c.misses.Add(1)
	c.metrics.recordMiss()

	client, err := c.svc.NewTableClient(table)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for table %s: %w", table, err)
	}
	if c.ensureTables {
		if err := client.CreateIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s: %w", table, err)
		}
	}

	c.entries[table] = &entry{client: client, createdAt: now, lastAccess: now}
	c.metrics.updateSize(len(c.entries))
	c.logger.Debug("table client cached", zap.String("table", table))
	return client, nil
}

// Purge evicts every entry idle for longer than the TTL and returns how many
// were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for table, e := range c.entries {
		if c.expired(e, now) {
			c.evictLocked(table, "expired")
			removed++
		}
	}
	return removed
}

// Invalidate drops the client for table. It reports whether one was cached.
func (c *Cache) Invalidate(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[table]; !ok {
		return false
	}
	c.evictLocked(table, "invalidated")
	return true
}

// Len returns the number of cached clients, expired ones included until the
// next purge.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}

// Start runs the purge loop until ctx is done or Close is called. Calling
// Start on a running cache has no effect.
func (c *Cache) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil || c.purgeInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

// Close stops the purge loop and waits for it to exit.
func (c *Cache) Close() error {
	c.loopMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (c *Cache) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				c.logger.Debug("purged idle table clients", zap.Int("count", n))
			}
		}
	}
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastAccess) > c.ttl
}

// evictLocked removes table. Callers hold c.mu.
func (c *Cache) evictLocked(table, reason string) {
	e := c.entries[table]
	delete(c.entries, table)
	c.evictions.Add(1)
	c.metrics.recordEviction()
	c.metrics.updateSize(len(c.entries))
	c.logger.Debug("table client evicted",
		zap.String("table", table),
		zap.String("reason", reason),
		zap.Duration("age", c.clock.Now().Sub(e.createdAt)))
}
