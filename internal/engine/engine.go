package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/mnemo/internal/config"
	"github.com/lazypower/mnemo/internal/embedding"
	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/namespace"
	"github.com/lazypower/mnemo/internal/sector"
	"github.com/lazypower/mnemo/internal/store"
	"github.com/lazypower/mnemo/internal/vector"
)

// Engine orchestrates memory writes, retrieval, waypoints and salience decay.
type Engine struct {
	DB         *store.DB
	Registry   *namespace.Registry
	Index      vector.Index
	Embedder   embedding.Embedder
	Classifier sector.Classifier

	cfg       config.EngineConfig
	halfLives config.HalfLives
	clock     func() time.Time

	waypointsWritten  atomic.Int64
	waypointFailures  atomic.Int64
	edgesPruned       atomic.Int64
	coactivationFails atomic.Int64
}

// Options configures a new Engine. Classifier and Clock are optional.
type Options struct {
	DB         *store.DB
	Registry   *namespace.Registry
	Index      vector.Index
	Embedder   embedding.Embedder
	Classifier sector.Classifier
	Engine     config.EngineConfig
	HalfLives  config.HalfLives
	Clock      func() time.Time
}

// New creates a new Engine.
func New(o Options) (*Engine, error) {
	if o.DB == nil || o.Index == nil || o.Embedder == nil {
		return nil, fmt.Errorf("engine: db, index and embedder are required")
	}
	if o.Registry == nil {
		o.Registry = namespace.NewRegistry(o.DB)
	}
	if o.Classifier == nil {
		o.Classifier = sector.NewHeuristic()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return &Engine{
		DB:         o.DB,
		Registry:   o.Registry,
		Index:      o.Index,
		Embedder:   o.Embedder,
		Classifier: o.Classifier,
		cfg:        o.Engine,
		halfLives:  o.HalfLives,
		clock:      o.Clock,
	}, nil
}

// now returns the engine clock at the store's millisecond resolution.
func (e *Engine) now() time.Time {
	return e.clock().Truncate(time.Millisecond)
}

// Stats are counters for background maintenance on the write and read paths.
type Stats struct {
	WaypointsWritten     int64 `json:"waypoints_written"`
	WaypointFailures     int64 `json:"waypoint_failures"`
	EdgesPruned          int64 `json:"edges_pruned"`
	CoactivationFailures int64 `json:"coactivation_failures"`
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		WaypointsWritten:     e.waypointsWritten.Load(),
		WaypointFailures:     e.waypointFailures.Load(),
		EdgesPruned:          e.edgesPruned.Load(),
		CoactivationFailures: e.coactivationFails.Load(),
	}
}

// embedAll embeds content into every sector concurrently. Any failure
// fails the whole set.
func (e *Engine) embedAll(ctx context.Context, content string, sectors []sector.Sector) ([]store.Embedding, error) {
	out := make([]store.Embedding, len(sectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sectors {
		g.Go(func() error {
			vec, err := e.Embedder.Embed(gctx, content, s)
			if err != nil {
				return err
			}
			out[i] = store.Embedding{Sector: s, Vector: vec, Model: e.Embedder.Model()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.Embedding(err)
	}
	return out, nil
}

// owned loads a live memory and checks it belongs to ns.
func (e *Engine) owned(ctx context.Context, ns, id string) (*store.Memory, error) {
	if err := namespace.Validate(ns); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errs.Validation("id is required")
	}
	m, err := e.DB.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Deleted() {
		return nil, errs.NotFound("memory %s", id)
	}
	if m.Namespace != ns {
		return nil, errs.Forbidden("memory %s is not in namespace %s", id, ns)
	}
	return m, nil
}

// Reindex loads every stored embedding into the vector index. Used at
// startup when the index lives in process memory.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	all, err := e.DB.AllEmbeddings(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ie := range all {
		if err := e.Index.Upsert(ctx, vector.Entry{
			Namespace: ie.Namespace,
			Sector:    ie.Sector,
			ID:        ie.MemoryID,
			Vector:    ie.Vector,
			UpdatedAt: ie.UpdatedAt,
		}); err != nil {
			log.Printf("reindex: %s/%s: %v", ie.MemoryID, ie.Sector, err)
			continue
		}
		n++
	}
	return n, nil
}
