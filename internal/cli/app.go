package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/lazypower/mnemo/internal/config"
	"github.com/lazypower/mnemo/internal/decay"
	"github.com/lazypower/mnemo/internal/embedding"
	"github.com/lazypower/mnemo/internal/engine"
	"github.com/lazypower/mnemo/internal/namespace"
	"github.com/lazypower/mnemo/internal/store"
	"github.com/lazypower/mnemo/internal/temporal"
	"github.com/lazypower/mnemo/internal/vector"
)

// app is the wired core shared by every command.
type app struct {
	cfg       config.Config
	dbPath    string
	db        *store.DB
	index     vector.Index
	engine    *engine.Engine
	facts     *temporal.Service
	scheduler *decay.Scheduler
	closeEmb  func()
}

// openApp loads config and wires storage, index, embedder, engine, fact
// store and decay scheduler.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, closeEmb: func() {}}

	a.dbPath = cfg.Database.Path
	if a.dbPath == "" {
		a.dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	a.db, err = store.Open(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch cfg.Vector.Backend {
	case "pgvector":
		a.index, err = vector.NewPGIndex(ctx, cfg.Vector.PostgresURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open pgvector index: %w", err)
		}
	default:
		a.index = vector.NewChromemIndex()
	}

	emb, closeEmb, err := embedding.FromConfig(ctx, cfg.Embedding)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	a.closeEmb = closeEmb

	reg := namespace.NewRegistry(a.db)
	a.engine, err = engine.New(engine.Options{
		DB:        a.db,
		Registry:  reg,
		Index:     a.index,
		Embedder:  emb,
		Engine:    cfg.Engine,
		HalfLives: cfg.Decay.HalfLives,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.facts = temporal.New(a.db, reg, cfg.Facts, nil)

	opts := []decay.Option{decay.WithInterval(cfg.Decay.Interval.Duration)}
	if cfg.Decay.Schedule != "" {
		opts = append(opts, decay.WithSchedule(cfg.Decay.Schedule))
	}
	a.scheduler, err = decay.NewScheduler(reg, []decay.Task{a.engine.DecayTask(), a.facts.DecayTask()}, opts...)
	if err != nil {
		a.close()
		return nil, err
	}

	// The in-process index starts empty; load it from the persisted embeddings.
	if cfg.Vector.Backend != "pgvector" {
		n, err := a.engine.Reindex(ctx)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("reindex: %w", err)
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "  indexed %d vectors\n", n)
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.index != nil {
		a.index.Close()
	}
	a.closeEmb()
	if a.db != nil {
		a.db.Close()
	}
}
