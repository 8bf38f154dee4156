package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/sector"
)

// Guard bounds every call by a timeout, converts provider failures into
// errs.ErrEmbedding, and rejects vectors whose length differs from the
// configured dimensionality with errs.ErrConsistency.
type Guard struct {
	inner   Embedder
	dims    int
	timeout time.Duration
}

// Guarded wraps inner. dims <= 0 uses inner.Dimensions().
func Guarded(inner Embedder, dims int, timeout time.Duration) *Guard {
	if dims <= 0 {
		dims = inner.Dimensions()
	}
	return &Guard{inner: inner, dims: dims, timeout: timeout}
}

func (g *Guard) Model() string  { return g.inner.Model() }
func (g *Guard) Dimensions() int { return g.dims }

func (g *Guard) Embed(ctx context.Context, text string, s sector.Sector) (Vector, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	vec, err := g.inner.Embed(ctx, text, s)
	if err != nil {
		return nil, errs.Embedding(fmt.Errorf("%s %s: %w", g.inner.Model(), s, err))
	}
	if ctx.Err() != nil {
		return nil, errs.Embedding(fmt.Errorf("%s %s: %w", g.inner.Model(), s, ctx.Err()))
	}
	if len(vec) != g.dims {
		return nil, errs.Consistency("%s returned %d dimensions, configured %d", g.inner.Model(), len(vec), g.dims)
	}
	if isZero(vec) {
		return nil, errs.Embedding(fmt.Errorf("%s %s: zero vector", g.inner.Model(), s))
	}
	return vec, nil
}
