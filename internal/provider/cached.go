package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/sky-coverage/internal/cache/coveragestore"
	"github.com/mohammed-shakir/sky-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/sky-coverage/internal/core/observability"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

// Cached fronts a provider with a bounded in-process LRU and an optional
// shared Redis tier. Concurrent misses for the same key share one upstream
// fetch. Coverage sets are immutable, so cached values are handed out as is.
type Cached struct {
	next   Interface
	lru    *lru.Cache[string, *moc.MOC]
	store  coveragestore.Store
	sf     singleflight.Group
	logger *slog.Logger

	// gen counts evictions per dataset. A fill only caches its result when
	// no eviction happened while it was fetching.
	genMu sync.Mutex
	gen   map[string]uint64
}

type CachedOption func(*Cached)

// WithStore adds the shared Redis tier.
func WithStore(s coveragestore.Store) CachedOption {
	return func(c *Cached) { c.store = s }
}

func WithLogger(l *slog.Logger) CachedOption {
	return func(c *Cached) { c.logger = l }
}

func NewCached(next Interface, size int, opts ...CachedOption) (*Cached, error) {
	c := &Cached{next: next, logger: slog.New(slog.DiscardHandler), gen: map[string]uint64{}}
	var err error
	c.lru, err = lru.New[string, *moc.MOC](max(size, 1))
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Cached) Coverage(ctx context.Context, dataset string) (*moc.MOC, error) {
	return c.CoverageAt(ctx, dataset, -1)
}

// CoverageAt returns the dataset degraded to order; order < 0 keeps the
// provider's resolution. Degraded variants are cached under their own key.
func (c *Cached) CoverageAt(ctx context.Context, dataset string, order int) (*moc.MOC, error) {
	key := keys.CoverageKey(dataset, order)
	if m, ok := c.lru.Get(key); ok {
		observability.IncCache("lru", true)
		return m, nil
	}
	observability.IncCache("lru", false)

	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.fill(ctx, dataset, order, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*moc.MOC), nil
}

func (c *Cached) generation(dataset string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gen[dataset]
}

func (c *Cached) fill(ctx context.Context, dataset string, order int, key string) (*moc.MOC, error) {
	gen := c.generation(dataset)

	if c.store != nil {
		m, ok, err := c.store.Get(ctx, dataset, order)
		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "coverage store read failed", "dataset", dataset, "err", err)
		case ok:
			observability.IncCache("redis", true)
			c.addIfCurrent(dataset, gen, key, m)
			return m, nil
		default:
			observability.IncCache("redis", false)
		}
	}

	var (
		m   *moc.MOC
		err error
	)
	if order >= 0 {
		var full *moc.MOC
		full, err = c.CoverageAt(ctx, dataset, -1)
		if err == nil {
			start := time.Now()
			m, err = full.Degrade(order)
			observability.ObserveCoverageOp("degrade", time.Since(start).Seconds())
		}
	} else {
		m, err = c.next.Coverage(ctx, dataset)
	}
	if err != nil {
		return nil, err
	}

	if !c.addIfCurrent(dataset, gen, key, m) {
		// evicted while fetching: serve this caller but keep it out of both tiers
		c.logger.DebugContext(ctx, "coverage evicted during fill, not cached", "dataset", dataset)
		return m, nil
	}
	if c.store != nil {
		// the shared tier is best effort; a failed write only costs a refetch
		wctx := context.WithoutCancel(ctx)
		if err := c.store.Put(wctx, dataset, order, m); err != nil {
			c.logger.WarnContext(ctx, "coverage store write failed", "dataset", dataset, "err", err)
		} else if c.generation(dataset) != gen {
			// an eviction overtook the write
			_ = c.store.Evict(wctx, dataset)
		}
	}
	return m, nil
}

// addIfCurrent caches m unless dataset was evicted since gen was read.
func (c *Cached) addIfCurrent(dataset string, gen uint64, key string, m *moc.MOC) bool {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if c.gen[dataset] != gen {
		return false
	}
	c.lru.Add(key, m)
	return true
}

// Evict drops every cached variant of dataset from both tiers.
func (c *Cached) Evict(ctx context.Context, dataset string) error {
	pat := keys.DatasetPattern(dataset)
	c.genMu.Lock()
	c.gen[dataset]++
	for _, k := range c.lru.Keys() {
		if ok, _ := path.Match(pat, k); ok {
			c.lru.Remove(k)
			c.sf.Forget(k)
		}
	}
	c.genMu.Unlock()
	if c.store != nil {
		if err := c.store.Evict(ctx, dataset); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cached) Len() int { return c.lru.Len() }
