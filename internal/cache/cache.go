// Package cache memoizes aggregation results per key with a freshness window.
//
// A fresh entry is served from memory. A stale entry is served immediately and
// refreshed in the background (stale-while-revalidate). Concurrent loads of one
// key are coalesced so the external source sees at most one request per key.
package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of one key.
type State int

const (
	StateMissing State = iota
	StateFresh
	StateStale
	StateInFlight
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateInFlight:
		return "in-flight"
	default:
		return "missing"
	}
}

// Lookup outcomes reported to the Recorder.
const (
	OutcomeFresh     = "fresh"
	OutcomeStale     = "stale"
	OutcomeMiss      = "miss"
	OutcomeCoalesced = "coalesced"
)

// Recorder receives cache observations.
type Recorder interface {
	CacheLookup(outcome string)
	CacheLoad(err error, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(string)             {}
func (nopRecorder) CacheLoad(error, time.Duration) {}

// Loader produces the value of one key.
type Loader[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value      V
	fetchedAt  time.Time
	refreshing bool
}

// Cache is safe for concurrent use. It has no capacity bound: keys are
// (subject, context) pairs seen during one session.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[V]
	loading  map[string]bool
	epoch    uint64
	group    singleflight.Group
	wg       sync.WaitGroup
	now      func() time.Time
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now      func() time.Time
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// WithClock sets the time source used for freshness.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLoadTimeout bounds every loader invocation.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// New creates an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	o := options{
		now:      time.Now,
		timeout:  30 * time.Second,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		entries:  make(map[string]*entry[V]),
		loading:  make(map[string]bool),
		now:      o.now,
		timeout:  o.timeout,
		logger:   o.logger,
		recorder: o.recorder,
	}
}

// GetOrLoad returns the value for key, loading it if absent. A value older
// than freshness is returned as is while one background refresh runs.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, loader Loader[V], freshness time.Duration) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		value := e.value
		if c.now().Sub(e.fetchedAt) <= freshness {
			c.mu.Unlock()
			c.recorder.CacheLookup(OutcomeFresh)
			return value, nil
		}
		if !e.refreshing {
			e.refreshing = true
			c.wg.Add(1)
			go c.refresh(key, loader)
		}
		c.mu.Unlock()
		c.recorder.CacheLookup(OutcomeStale)
		return value, nil
	}
	c.mu.Unlock()

	c.recorder.CacheLookup(OutcomeMiss)
	return c.load(ctx, key, loader)
}

// Reload forces a load of key, bypassing any cached value. A load already
// in flight for key is joined rather than duplicated.
func (c *Cache[V]) Reload(ctx context.Context, key string, loader Loader[V]) (V, error) {
	return c.load(ctx, key, loader)
}

func (c *Cache[V]) refresh(key string, loader Loader[V]) {
	defer c.wg.Done()
	if _, err := c.load(context.Background(), key, loader); err != nil {
		c.logger.Warn("background refresh failed; keeping stale value", "key", key, "error", err)
	}
}

func (c *Cache[V]) load(ctx context.Context, key string, loader Loader[V]) (V, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.run(key, loader)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.recorder.CacheLookup(OutcomeCoalesced)
		}
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// run executes one loader invocation on a context detached from any caller,
// so a caller giving up does not fail the others waiting on it.
func (c *Cache[V]) run(key string, loader Loader[V]) (V, error) {
	c.mu.Lock()
	epoch := c.epoch
	c.loading[key] = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := c.now()
	value, err := loader(ctx)
	c.recorder.CacheLoad(err, c.now().Sub(start))

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return value, err
	}
	delete(c.loading, key)
	if err != nil {
		if e, ok := c.entries[key]; ok {
			e.refreshing = false
		}
		return value, err
	}
	c.entries[key] = &entry[V]{value: value, fetchedAt: c.now()}
	return value, nil
}

// State reports the state of key under the given freshness window.
func (c *Cache[V]) State(key string, freshness time.Duration) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading[key] {
		return StateInFlight
	}
	e, ok := c.entries[key]
	switch {
	case !ok:
		return StateMissing
	case e.refreshing:
		return StateInFlight
	case c.now().Sub(e.fetchedAt) <= freshness:
		return StateFresh
	default:
		return StateStale
	}
}

// Purge drops every entry. Loads in flight complete for their waiters but
// do not repopulate the cache.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for key := range c.loading {
		c.group.Forget(key)
	}
	c.entries = make(map[string]*entry[V])
	c.loading = make(map[string]bool)
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until background refreshes started so far have finished.
func (c *Cache[V]) Wait() {
	c.wg.Wait()
}
