package assets

import (
	"context"
	"image"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of decoded images kept by a Cache.
const DefaultCacheSize = 64

// Cache keeps recently decoded images so that assets shared by every guest,
// such as the background, are fetched once per batch. Concurrent loads of
// the same src share a single fetch, which a cancelled caller abandons
// without cancelling it for the others. Failures are not cached.
type Cache struct {
	loader  Loader
	max     int
	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]image.Image
	order   []string
}

// NewCache wraps loader with a FIFO cache of at most max entries.
func NewCache(loader Loader, max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		loader:  loader,
		max:     max,
		entries: make(map[string]image.Image, max),
	}
}

// Load returns the cached image for src or loads it.
func (c *Cache) Load(ctx context.Context, src string) (image.Image, error) {
	// data: URLs carry their own bytes; caching them only costs memory.
	if strings.HasPrefix(src, "data:") {
		return c.loader.Load(ctx, src)
	}

	if img, ok := c.get(src); ok {
		return img, nil
	}

	// The shared fetch must outlive any one caller; the loader's own
	// timeout bounds it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(src, func() (any, error) {
		img, err := c.loader.Load(shared, src)
		if err != nil {
			return nil, err
		}
		c.put(src, img)
		return img, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(src string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.entries[src]
	return img, ok
}

func (c *Cache) put(src string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[src]; ok {
		return
	}
	for len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[src] = img
	c.order = append(c.order, src)
}
