// Package vector holds the per-(namespace, sector) similarity indexes.
//
// Isolation is structural: every implementation keeps a separate partition
// per namespace, and a search only ever touches the partition it names.
package vector

import (
	"context"
	"sort"
	"time"

	"github.com/lazypower/mnemo/internal/sector"
)

// Hit is one nearest-neighbour result.
type Hit struct {
	ID         string
	Similarity float64
	UpdatedAt  time.Time
}

// Entry is one vector to load into an index.
type Entry struct {
	Namespace string
	Sector    sector.Sector
	ID        string
	Vector    []float32
	UpdatedAt time.Time
}

// Index stores vectors partitioned by namespace and sector.
type Index interface {
	// Upsert inserts or replaces the vector for id in (namespace, sector).
	Upsert(ctx context.Context, e Entry) error
	// Remove deletes id from (namespace, sector). Missing ids are not an error.
	Remove(ctx context.Context, namespace string, s sector.Sector, id string) error
	// Search returns up to k hits by descending cosine similarity, ties
	// broken by most recent UpdatedAt.
	Search(ctx context.Context, namespace string, s sector.Sector, query []float32, k int) ([]Hit, error)
	// Count returns the number of vectors in (namespace, sector).
	Count(ctx context.Context, namespace string, s sector.Sector) (int, error)
	Close() error
}

// sortHits orders hits by similarity, then recency, then id for stability.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].UpdatedAt.Equal(hits[j].UpdatedAt) {
			return hits[i].UpdatedAt.After(hits[j].UpdatedAt)
		}
		return hits[i].ID < hits[j].ID
	})
}
