package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/lazypower/mnemo/internal/sector"
)

// Cached memoizes embeddings by (model, sector, text). Vectors are copied
// on the way in and out, so callers may mutate what they receive.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding up to size vectors.
func NewCached(inner Embedder, size int64) (*Cached, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Model() string  { return c.inner.Model() }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) key(text string, s sector.Sector) string {
	return c.inner.Model() + "\x00" + string(s) + "\x00" + text
}

func (c *Cached) Embed(ctx context.Context, text string, s sector.Sector) (Vector, error) {
	key := c.key(text, s)
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.(Vector); ok {
			return append(Vector(nil), vec...), nil
		}
	}
	vec, err := c.inner.Embed(ctx, text, s)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append(Vector(nil), vec...), 1)
	return vec, nil
}

// Close releases the cache's background goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}
