package engine

import (
	"context"
	"log"

	"github.com/lazypower/mnemo/internal/decay"
	"github.com/lazypower/mnemo/internal/store"
)

// link finds the strongest neighbour of id across its sector vectors and
// offers it as id's waypoint. Returns the edge id now has, or nil when no
// neighbour clears the floor or a stronger edge already exists.
func (e *Engine) link(ctx context.Context, ns, id string, embs []store.Embedding) (*Link, error) {
	var best Link
	for _, emb := range embs {
		// Two hits so the memory itself can be skipped.
		hits, err := e.Index.Search(ctx, ns, emb.Sector, emb.Vector, 2)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.ID == id {
				continue
			}
			if h.Similarity > best.Weight {
				best = Link{DstID: h.ID, Weight: h.Similarity}
			}
			break
		}
	}
	if best.DstID == "" || best.Weight < e.cfg.WaypointFloor {
		return nil, nil
	}
	best.Weight = decay.Clamp(best.Weight)

	unlock := e.Registry.Locker(ns).Lock("waypoint:" + id)
	defer unlock()

	ok, err := e.DB.OfferWaypoint(ctx, store.Waypoint{
		Namespace: ns,
		SrcID:     id,
		DstID:     best.DstID,
		Weight:    best.Weight,
		UpdatedAt: e.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	e.waypointsWritten.Add(1)
	return &best, nil
}

// prune drops a dangling edge discovered during traversal.
func (e *Engine) prune(ctx context.Context, ns, src, dst string) {
	unlock := e.Registry.Locker(ns).Lock("waypoint:" + src)
	defer unlock()
	ok, err := e.DB.PruneWaypoint(ctx, ns, src, dst)
	if err != nil {
		log.Printf("engine: prune waypoint %s -> %s: %v", src, dst, err)
		return
	}
	if ok {
		e.edgesPruned.Add(1)
	}
}
