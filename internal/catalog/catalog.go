// Package catalog caches the product list and serves filtered, sorted views
// without re-fetching.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront/internal/model"
)

// Sort modes accepted by FilterProducts. Anything else keeps load order.
const (
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
)

// AllCategories is the category sentinel that disables filtering.
const AllCategories = "all"

// Loader fetches the product list. Satisfied by gateway.Store.
type Loader interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// Cache holds the product list once loaded. Safe for concurrent use.
type Cache struct {
	loader Loader
	logger *slog.Logger
	maxAge time.Duration
	now    func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	products []model.Product
	loaded   bool
	loadedAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge makes a loaded list stale after d. Zero keeps it forever.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(loader Loader, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{loader: loader, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadProducts returns the cached list, fetching it on first use.
// Concurrent callers share one fetch. A failed fetch is returned to every
// waiter and leaves the cache unloaded, so the next call retries.
func (c *Cache) LoadProducts(ctx context.Context) ([]model.Product, error) {
	if products, ok := c.fresh(); ok {
		return products, nil
	}

	v, err, shared := c.group.Do("products", func() (any, error) {
		if products, ok := c.fresh(); ok {
			return products, nil
		}
		// Detached so one caller giving up does not fail the others.
		products, err := c.loader.ListProducts(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.products = products
		c.loaded = true
		c.loadedAt = c.now()
		c.mu.Unlock()
		c.logger.Info("catalog loaded", "products", len(products))
		return products, nil
	})
	if err != nil {
		c.logger.Warn("catalog load failed", "error", err, "shared", shared)
		return nil, err
	}
	return clone(v.([]model.Product)), nil
}

func (c *Cache) fresh() ([]model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, false
	}
	if c.maxAge > 0 && c.now().Sub(c.loadedAt) >= c.maxAge {
		return nil, false
	}
	return clone(c.products), true
}

// Loaded reports whether a list is cached.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Invalidate drops the cached list.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.products, c.loaded = nil, false
	c.mu.Unlock()
}

// GetProductByID looks a product up with loose id equality.
func (c *Cache) GetProductByID(id model.ID) (model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if model.SameID(p.ID, id) {
			return p, true
		}
	}
	return model.Product{}, false
}

// FilterProducts returns products whose name contains search
// (case-insensitive) in category, ordered by sortMode. Does not change the cache.
func (c *Cache) FilterProducts(search, category, sortMode string) []model.Product {
	c.mu.RLock()
	products := c.products
	c.mu.RUnlock()
	return Filter(products, search, category, sortMode)
}

// Categories lists distinct categories in load order.
func (c *Cache) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.products {
		if p.Category != "" && !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	return out
}

// Filter is the pure form of FilterProducts.
func Filter(products []model.Product, search, category, sortMode string) []model.Product {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]model.Product, 0, len(products))
	for _, p := range products {
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		if category != "" && category != AllCategories && p.Category != category {
			continue
		}
		out = append(out, p)
	}

	switch sortMode {
	case SortPriceLow:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].FirstPrice().LessThan(out[j].FirstPrice())
		})
	case SortPriceHigh:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].FirstPrice().GreaterThan(out[j].FirstPrice())
		})
	}
	return out
}

func clone(products []model.Product) []model.Product {
	if products == nil {
		return nil
	}
	out := make([]model.Product, len(products))
	copy(out, products)
	return out
}
