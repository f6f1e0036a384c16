// Package cache keeps rendered dataset representations in memory.
package cache

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"metax/internal/core"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// RenderFunc produces the cached representation of a dataset.
type RenderFunc func(ctx context.Context, d domain.Dataset) ([]byte, error)

type entry struct {
	modified time.Time
	body     []byte
}

// Cache is an LRU of rendered datasets. An entry is only served while the
// dataset modification time matches the one it was rendered from. A nil
// Cache renders every time.
type Cache struct {
	lru    *lru.Cache[string, entry]
	size   int
	log    logging.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a cache holding up to size datasets, or nil when size is not
// positive.
func New(size int, log logging.Logger) *Cache {
	if size <= 0 {
		return nil
	}
	l, err := lru.New[string, entry](size)
	if err != nil {
		panic(err)
	}
	return &Cache{lru: l, size: size, log: logging.OrNop(log).Named("cache")}
}

// Get returns the cached representation of d.
func (c *Cache) Get(d domain.Dataset) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.lru.Get(d.ID)
	if !ok || !e.modified.Equal(d.Modified) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.body, true
}

// Put stores the representation of d.
func (c *Cache) Put(d domain.Dataset, body []byte) {
	if c == nil {
		return
	}
	c.lru.Add(d.ID, entry{modified: d.Modified, body: body})
}

// Render returns the cached representation of d, rendering and storing it
// on a miss.
func (c *Cache) Render(ctx context.Context, d domain.Dataset, render RenderFunc) ([]byte, error) {
	if body, ok := c.Get(d); ok {
		return body, nil
	}
	body, err := render(ctx, d)
	if err != nil {
		return nil, err
	}
	c.Put(d, body)
	return body, nil
}

// Invalidate drops the entry of a dataset.
func (c *Cache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.lru.Remove(id)
}

// DatasetChanged invalidates the changed dataset and, for drafts, the
// dataset they belong to.
func (c *Cache) DatasetChanged(_ context.Context, ev core.DatasetEvent) {
	c.Invalidate(ev.Dataset.ID)
	if ev.Dataset.DraftOf != "" {
		c.Invalidate(ev.Dataset.DraftOf)
	}
}

var _ core.Observer = (*Cache)(nil)

// Stats reports cache usage.
type Stats struct {
	Size   int
	Hits   int64
	Misses int64
}

// Stats returns the current usage counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Size: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Warm renders the most recently modified published datasets until the
// cache is full. It returns the number of datasets rendered.
func (c *Cache) Warm(ctx context.Context, store domain.PersistentStore, render RenderFunc) (int, error) {
	if c == nil {
		return 0, nil
	}
	var datasets []domain.Dataset
	if err := store.View(ctx, func(v domain.TransactionView) error {
		for _, d := range v.ListDatasets() {
			if d.IsPublished() && !d.IsRemoved() {
				datasets = append(datasets, d)
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Modified.After(datasets[j].Modified) })
	if len(datasets) > c.size {
		datasets = datasets[:c.size]
	}
	rendered := 0
	for _, d := range datasets {
		if err := ctx.Err(); err != nil {
			return rendered, err
		}
		if e, ok := c.lru.Peek(d.ID); ok && e.modified.Equal(d.Modified) {
			continue
		}
		body, err := render(ctx, d)
		if err != nil {
			c.log.Warnw("warming dataset failed", "dataset", d.ID, "error", err)
			continue
		}
		c.Put(d, body)
		rendered++
	}
	c.log.Infow("cache warmed", "rendered", rendered, "size", c.lru.Len())
	return rendered, nil
}
