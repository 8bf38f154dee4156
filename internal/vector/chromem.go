package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/sector"
)

// ChromemIndex is an in-process index built on chromem-go. Each namespace
// owns its own chromem.DB, and each sector is a collection inside it.
type ChromemIndex struct {
	mu         sync.RWMutex
	namespaces map[string]*chromemNamespace
}

type chromemNamespace struct {
	db *chromem.DB

	mu   sync.RWMutex
	cols map[sector.Sector]*chromem.Collection
	dims map[sector.Sector]int
}

// NewChromemIndex returns an empty in-process index.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{namespaces: make(map[string]*chromemNamespace)}
}

func (x *ChromemIndex) namespace(ns string, create bool) *chromemNamespace {
	x.mu.RLock()
	n, ok := x.namespaces[ns]
	x.mu.RUnlock()
	if ok || !create {
		return n
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	// Double-check after acquiring write lock
	if n, ok := x.namespaces[ns]; ok {
		return n
	}
	n = &chromemNamespace{
		db:   chromem.NewDB(),
		cols: make(map[sector.Sector]*chromem.Collection),
		dims: make(map[sector.Sector]int),
	}
	x.namespaces[ns] = n
	return n
}

func (n *chromemNamespace) collection(s sector.Sector, create bool) (*chromem.Collection, int, error) {
	n.mu.RLock()
	col, ok := n.cols[s]
	dims := n.dims[s]
	n.mu.RUnlock()
	if ok || !create {
		return col, dims, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if col, ok := n.cols[s]; ok {
		return col, n.dims[s], nil
	}
	col, err := n.db.GetOrCreateCollection(string(s), nil, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create collection %s: %w", s, err)
	}
	n.cols[s] = col
	return col, 0, nil
}

// checkDims pins a partition's dimensionality on first write and rejects
// any later vector of a different length.
func (n *chromemNamespace) checkDims(s sector.Sector, got int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	want, ok := n.dims[s]
	if !ok || want == 0 {
		n.dims[s] = got
		return nil
	}
	if want != got {
		return errs.Consistency("sector %s holds %d-dimensional vectors, got %d", s, want, got)
	}
	return nil
}

func (x *ChromemIndex) Upsert(ctx context.Context, e Entry) error {
	if len(e.Vector) == 0 {
		return errs.Validation("empty vector for %s", e.ID)
	}
	n := x.namespace(e.Namespace, true)
	col, _, err := n.collection(e.Sector, true)
	if err != nil {
		return err
	}
	if err := n.checkDims(e.Sector, len(e.Vector)); err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        e.ID,
		Content:   e.ID,
		Embedding: append([]float32(nil), e.Vector...),
		Metadata: map[string]string{
			"updated_at": strconv.FormatInt(e.UpdatedAt.UnixMilli(), 10),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (x *ChromemIndex) Remove(ctx context.Context, ns string, s sector.Sector, id string) error {
	n := x.namespace(ns, false)
	if n == nil {
		return nil
	}
	col, _, _ := n.collection(s, false)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (x *ChromemIndex) Search(ctx context.Context, ns string, s sector.Sector, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	n := x.namespace(ns, false)
	if n == nil {
		return nil, nil
	}
	col, dims, _ := n.collection(s, false)
	if col == nil {
		return nil, nil
	}
	if dims != 0 && dims != len(query) {
		return nil, errs.Consistency("sector %s holds %d-dimensional vectors, query has %d", s, dims, len(query))
	}

	// chromem-go ranks by similarity alone, so ties at the k-th place are
	// resolved arbitrarily. Widen the window until the boundary similarity
	// differs from the k-th, then order and cut.
	want := k
	var hits []Hit
	for {
		results, total, err := queryChromem(ctx, col, query, want)
		if err != nil {
			return nil, err
		}
		hits = toHits(results)
		if len(hits) < k || want >= total || hits[len(hits)-1].Similarity != hits[k-1].Similarity {
			break
		}
		want = min(want*2, total)
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// queryChromem asks for up to n results and returns them with the
// collection size at query time. chromem-go requires nResults <= size,
// and a concurrent delete can shrink it between Count and QueryEmbedding.
func queryChromem(ctx context.Context, col *chromem.Collection, query []float32, n int) ([]chromem.Result, int, error) {
	for attempt := 0; ; attempt++ {
		total := col.Count()
		limit := min(n, total)
		if limit == 0 {
			return nil, 0, nil
		}
		results, err := col.QueryEmbedding(ctx, append([]float32(nil), query...), limit, nil, nil)
		if err == nil {
			return results, total, nil
		}
		if !isInsufficientDocsError(err) || attempt == 2 {
			return nil, 0, fmt.Errorf("chromem query: %w", err)
		}
	}
}

func toHits(results []chromem.Result) []Hit {
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		ms, _ := strconv.ParseInt(r.Metadata["updated_at"], 10, 64)
		hits = append(hits, Hit{
			ID:         r.ID,
			Similarity: float64(r.Similarity),
			UpdatedAt:  time.UnixMilli(ms),
		})
	}
	return hits
}

func isInsufficientDocsError(err error) bool {
	return strings.Contains(err.Error(), "nResults must be")
}

func (x *ChromemIndex) Count(_ context.Context, ns string, s sector.Sector) (int, error) {
	n := x.namespace(ns, false)
	if n == nil {
		return 0, nil
	}
	col, _, _ := n.collection(s, false)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Close releases resources. chromem-go keeps everything in memory.
func (x *ChromemIndex) Close() error {
	return nil
}
