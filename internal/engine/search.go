package engine

import (
	"context"
	"log"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/mnemo/internal/embedding"
	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/namespace"
	"github.com/lazypower/mnemo/internal/sector"
)

const maxK = 100

// Result is a single ranked query result.
type Result struct {
	ID          string        `json:"id"`
	Score       float64       `json:"score"`
	Sector      sector.Sector `json:"sector"`
	Snippet     string        `json:"snippet"`
	Content     string        `json:"content"`
	Similarity  float64       `json:"similarity"`
	Salience    float64       `json:"salience"`
	Recency     float64       `json:"recency"`
	LinkWeight  float64       `json:"link_weight"`
	ViaWaypoint bool          `json:"via_waypoint,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// QueryInput configures a retrieval.
type QueryInput struct {
	Namespace   string
	Text        string
	K           int             // default from config
	Sectors     []sector.Sector // restrict; empty searches every sector
	MinSalience float64
}

func (e *Engine) limit(k int) int {
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	if k <= 0 {
		k = 10
	}
	return min(k, maxK)
}

// Query embeds the text, gathers nearest neighbours from the namespace's
// sector partitions, expands one waypoint hop, and returns the top K by
// composite score. Returned memories are reinforced by rank.
func (e *Engine) Query(ctx context.Context, in QueryInput) ([]Result, error) {
	if err := namespace.Validate(in.Namespace); err != nil {
		return nil, err
	}
	if err := validateUnit("min_salience", in.MinSalience); err != nil {
		return nil, err
	}
	text, err := validateContent(in.Text)
	if err != nil {
		return nil, err
	}
	k := e.limit(in.K)
	sectors := in.Sectors
	if len(sectors) == 0 {
		sectors = sector.All()
	}
	for _, s := range sectors {
		if !s.Valid() {
			return nil, errs.Validation("unknown sector %q", s)
		}
	}
	ns := in.Namespace

	queries := make(map[sector.Sector]embedding.Vector, len(sectors))
	embs, err := e.embedAll(ctx, text, sectors)
	if err != nil {
		return nil, err
	}
	for _, emb := range embs {
		queries[emb.Sector] = emb.Vector
	}

	// Nearest neighbours per sector, keeping each memory's best sector.
	type hit struct {
		id         string
		sector     sector.Sector
		similarity float64
	}
	hitsPer := make([][]hit, len(sectors))
	pool := 2 * k
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sectors {
		g.Go(func() error {
			hits, err := e.Index.Search(gctx, ns, s, queries[s], pool)
			if err != nil {
				return err
			}
			for _, h := range hits {
				hitsPer[i] = append(hitsPer[i], hit{h.ID, s, h.Similarity})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	best := make(map[string]hit)
	for _, hits := range hitsPer {
		for _, h := range hits {
			if cur, ok := best[h.id]; !ok || h.similarity > cur.similarity {
				best[h.id] = h
			}
		}
	}
	if len(best) == 0 {
		return []Result{}, nil
	}

	direct := make([]string, 0, len(best))
	for id := range best {
		direct = append(direct, id)
	}
	slices.Sort(direct)
	mems, err := e.DB.GetMemories(ctx, ns, direct)
	if err != nil {
		return nil, err
	}

	cands := make(map[string]*candidate, len(mems))
	for id, m := range mems {
		h := best[id]
		cands[id] = &candidate{mem: m, sector: h.sector, similarity: h.similarity}
	}

	// One waypoint hop from every direct hit.
	edges, err := e.DB.WaypointsFrom(ctx, ns, direct)
	if err != nil {
		return nil, err
	}
	expand := make(map[string]float64)
	srcOf := make(map[string][]string)
	for src, w := range edges {
		if _, ok := cands[src]; !ok {
			continue
		}
		if c, ok := cands[w.DstID]; ok {
			c.linkWeight = max(c.linkWeight, w.Weight)
			continue
		}
		expand[w.DstID] = max(expand[w.DstID], w.Weight)
		srcOf[w.DstID] = append(srcOf[w.DstID], src)
	}
	if len(expand) > 0 {
		if err := e.expand(ctx, ns, expand, srcOf, queries, cands); err != nil {
			return nil, err
		}
	}

	list := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.mem.Salience < in.MinSalience {
			continue
		}
		list = append(list, *c)
	}
	now := e.now()
	results := rank(list, e.cfg.Weights, now, e.cfg.RecencyHalfLife.Duration, k)
	e.coactivate(context.WithoutCancel(ctx), results, now)
	return results, nil
}

// expand loads waypoint destinations that were not direct hits, pruning
// edges whose destination is gone, and scores each against the query
// vectors of the sectors it is embedded in.
func (e *Engine) expand(ctx context.Context, ns string, weights map[string]float64, srcOf map[string][]string,
	queries map[sector.Sector]embedding.Vector, cands map[string]*candidate) error {
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	mems, err := e.DB.GetMemories(ctx, ns, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := mems[id]; ok {
			continue
		}
		for _, src := range srcOf[id] {
			e.prune(context.WithoutCancel(ctx), ns, src, id)
		}
	}
	if len(mems) == 0 {
		return nil
	}
	found := make([]string, 0, len(mems))
	for id := range mems {
		found = append(found, id)
	}
	stored, err := e.DB.EmbeddingsFor(ctx, found)
	if err != nil {
		return err
	}
	for id, m := range mems {
		c := &candidate{mem: m, sector: m.PrimarySector, linkWeight: weights[id], via: true}
		for _, emb := range stored[id] {
			q, ok := queries[emb.Sector]
			if !ok {
				continue
			}
			if sim := embedding.CosineSimilarity(q, emb.Vector); sim > c.similarity {
				c.similarity = sim
				c.sector = emb.Sector
			}
		}
		cands[id] = c
	}
	return nil
}

// coactivate reinforces returned memories, the top result the most.
// Failures are counted and logged, never surfaced to the caller.
func (e *Engine) coactivate(ctx context.Context, results []Result, now time.Time) {
	if len(results) == 0 {
		return
	}
	if e.cfg.CoactivationBoost <= 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		if err := e.DB.TouchMemories(ctx, ids, now); err != nil {
			log.Printf("engine: touch results: %v", err)
		}
		return
	}
	for i, r := range results {
		boost := e.cfg.CoactivationBoost / float64(i+1)
		if _, err := e.DB.Reinforce(ctx, r.ID, boost, now); err != nil {
			e.coactivationFails.Add(1)
			log.Printf("engine: coactivate %s: %v", r.ID, err)
		}
	}
}
