package engine

import (
	"math"
	"sort"
	"time"

	"github.com/lazypower/mnemo/internal/config"
	"github.com/lazypower/mnemo/internal/decay"
	"github.com/lazypower/mnemo/internal/sector"
	"github.com/lazypower/mnemo/internal/store"
)

// candidate is a memory under consideration for a query result.
type candidate struct {
	mem        *store.Memory
	sector     sector.Sector // sector of the best similarity
	similarity float64
	linkWeight float64
	via        bool // reached only through a waypoint
}

// score is the composite ranking function. All inputs are in [0, 1].
func score(w config.Weights, similarity, salience, recency, link float64) float64 {
	return w.Similarity*similarity + w.Salience*salience + w.Recency*recency + w.Link*link
}

// recency maps time since last access (or creation) onto (0, 1].
func recency(m *store.Memory, now time.Time, halfLife time.Duration) float64 {
	ref := m.LastAccessedAt
	if ref.IsZero() {
		ref = m.CreatedAt
	}
	return decay.Factor(now.Sub(ref), halfLife)
}

// rank scores candidates and returns the top k, ties going to the newer memory.
func rank(cands []candidate, w config.Weights, now time.Time, halfLife time.Duration, k int) []Result {
	results := make([]Result, 0, len(cands))
	created := make(map[string]time.Time, len(cands))
	for _, c := range cands {
		sim := decay.Clamp(c.similarity)
		rec := recency(c.mem, now, halfLife)
		r := Result{
			ID:          c.mem.ID,
			Content:     c.mem.Content,
			Snippet:     truncateClean(c.mem.Content, snippetChars),
			Sector:      c.sector,
			Similarity:  sim,
			Salience:    c.mem.Salience,
			Recency:     rec,
			LinkWeight:  c.linkWeight,
			ViaWaypoint: c.via,
			Tags:        c.mem.Tags,
			CreatedAt:   c.mem.CreatedAt,
		}
		r.Score = score(w, sim, c.mem.Salience, rec, c.linkWeight)
		if math.IsNaN(r.Score) {
			r.Score = 0
		}
		created[r.ID] = c.mem.CreatedAt
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ci, cj := created[results[i].ID], created[results[j].ID]
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
