// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/z5labs/otlpstdout/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long loaded destinations are reused by default.
const DefaultTTL = 300 * time.Second

type cacheOptions struct {
	logHandler slog.Handler
	ttl        time.Duration
	now        func() time.Time
}

// CacheOption configures a [Cache].
type CacheOption func(*cacheOptions)

// TTL sets how long loaded destinations are reused. Non-positive values
// are ignored.
func TTL(d time.Duration) CacheOption {
	return func(o *cacheOptions) {
		if d <= 0 {
			return
		}
		o.ttl = d
	}
}

// Clock replaces [time.Now].
func Clock(now func() time.Time) CacheOption {
	return func(o *cacheOptions) {
		o.now = now
	}
}

// CacheLogHandler configures the underlying [slog.Handler].
func CacheLogHandler(h slog.Handler) CacheOption {
	return func(o *cacheOptions) {
		o.logHandler = h
	}
}

// Cache resolves destinations from a [Store], reusing the last successful
// load until it is older than the TTL. Concurrent resolutions of an empty
// or expired cache share a single load. A failed load is never cached.
type Cache struct {
	log   *slog.Logger
	store Store
	ttl   time.Duration
	now   func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	dests   []Destination
	expires time.Time
}

// NewCache returns a [Cache] in front of store.
func NewCache(store Store, opts ...CacheOption) *Cache {
	o := &cacheOptions{
		logHandler: logging.NoopHandler{},
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Cache{
		log:   logging.New(o.logHandler),
		store: store,
		ttl:   o.ttl,
		now:   o.now,
	}
}

// Resolve returns the current destinations, loading them from the store
// if the cache is empty or expired.
func (c *Cache) Resolve(ctx context.Context) ([]Destination, error) {
	dests, ok := c.cached()
	if ok {
		return dests, nil
	}

	v, err, _ := c.group.Do("destinations", func() (any, error) {
		dests, ok := c.cached()
		if ok {
			return dests, nil
		}
		return c.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Destination), nil
}

// Invalidate empties the cache so the next Resolve loads from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dests = nil
	c.expires = time.Time{}
}

func (c *Cache) cached() ([]Destination, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.dests == nil || !c.now().Before(c.expires) {
		return nil, false
	}
	return c.dests, true
}

func (c *Cache) load(ctx context.Context) ([]Destination, error) {
	spanCtx, span := otel.Tracer("collector").Start(ctx, "Cache.load")
	defer span.End()

	dests, err := c.store.Load(spanCtx)
	if err != nil {
		c.log.ErrorContext(spanCtx, "failed to load collector destinations", logging.Error(err))
		span.RecordError(err)
		return nil, err
	}
	if len(dests) == 0 {
		return nil, ErrNoDestinations
	}

	span.SetAttributes(attribute.Int("collector.destinations.count", len(dests)))
	span.AddEvent("refreshed", trace.WithAttributes(attribute.Float64("collector.cache.ttl_seconds", c.ttl.Seconds())))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dests = dests
	c.expires = c.now().Add(c.ttl)
	return dests, nil
}
