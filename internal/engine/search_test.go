package engine

import (
	"context"
	"testing"
	"time"

	"github.com/lazypower/mnemo/internal/config"
	"github.com/lazypower/mnemo/internal/sector"
	"github.com/lazypower/mnemo/internal/store"
)

func TestQueryRanksRelevantFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	want := env.add(t, "alice", "user likes dark mode")
	env.add(t, "alice", "grandma bakes plum cake on sundays")
	env.add(t, "alice", "how to install the release build")

	results, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: "user likes dark mode"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	top := results[0]
	if top.ID != want.ID {
		t.Errorf("top = %q, want %q", top.Content, "user likes dark mode")
	}
	if top.Similarity < 0.99 {
		t.Errorf("similarity = %v, want ~1 for identical text", top.Similarity)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted at %d", i)
		}
	}
}

func TestQueryValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	cases := []QueryInput{
		{Namespace: "alice", Text: ""},
		{Namespace: "", Text: "x"},
		{Namespace: "alice", Text: "x", MinSalience: 2},
		{Namespace: "alice", Text: "x", Sectors: []sector.Sector{"bogus"}},
	}
	for _, in := range cases {
		if _, err := env.e.Query(ctx, in); err == nil {
			t.Errorf("Query(%+v) should fail", in)
		}
	}
}

func TestQueryKAndMinSalience(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	low := 0.1
	for _, c := range []string{"user likes dark mode", "user likes light mode", "user likes vim"} {
		if _, err := env.e.Add(ctx, AddInput{Namespace: "alice", Content: c, Salience: &low}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	keep := env.add(t, "alice", "user likes dark themes")

	results, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: "user likes dark mode", K: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want K=2", len(results))
	}

	results, err = env.e.Query(ctx, QueryInput{Namespace: "alice", Text: "user likes dark mode", MinSalience: 0.5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != keep.ID {
		t.Errorf("min_salience results = %+v, want only the salient memory", results)
	}
}

func TestQuerySectorFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.add(t, "alice", "user likes dark mode")

	results, err := env.e.Query(ctx, QueryInput{
		Namespace: "alice",
		Text:      "user likes dark mode",
		Sectors:   []sector.Sector{sector.Emotional},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("emotional-only query matched a semantic memory")
	}
}

func TestQueryCoactivation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	half := 0.5
	res, err := env.e.Add(ctx, AddInput{Namespace: "alice", Content: "user likes dark mode", Salience: &half})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: "user likes dark mode"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	m, _ := env.db.GetMemory(ctx, res.ID)
	want := 0.5 + config.Default().Engine.CoactivationBoost
	if diff := m.Salience - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("salience after retrieval = %v, want %v", m.Salience, want)
	}
	if m.LastAccessedAt.IsZero() {
		t.Error("retrieval should record access")
	}
}

func TestWaypointLinksNearestNeighbour(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first := env.add(t, "alice", "alpha bravo charlie delta echo foxtrot")
	if first.Waypoint != nil {
		t.Errorf("first memory linked to %+v with nothing to link to", first.Waypoint)
	}
	env.add(t, "alice", "grandma bakes plum cake on sundays")
	second := env.add(t, "alice", "alpha bravo charlie delta echo foxtrot golf")
	if second.Waypoint == nil || second.Waypoint.DstID != first.ID {
		t.Fatalf("second waypoint = %+v, want link to first", second.Waypoint)
	}
	if second.Waypoint.Weight < 0.75 || second.Waypoint.Weight > 1 {
		t.Errorf("weight = %v", second.Waypoint.Weight)
	}

	m, err := env.e.Get(ctx, "alice", second.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Waypoint == nil || m.Waypoint.DstID != first.ID {
		t.Errorf("stored waypoint = %+v", m.Waypoint)
	}

	unrelated, _ := env.db.GetWaypoint(ctx, "alice", first.ID)
	if unrelated != nil && unrelated.DstID == first.ID {
		t.Error("self edge")
	}
}

func TestWaypointKeepsStrongerEdge(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a := env.add(t, "alice", "alpha bravo charlie delta echo foxtrot")
	b := env.add(t, "alice", "alpha bravo charlie delta echo foxtrot golf")

	// A weaker offer must not replace b's edge.
	ok, err := env.db.OfferWaypoint(ctx, store.Waypoint{Namespace: "alice", SrcID: b.ID, DstID: "other", Weight: 0.76, UpdatedAt: time.Now()})
	if err != nil {
		t.Fatalf("OfferWaypoint: %v", err)
	}
	if ok {
		t.Error("weaker edge replaced a stronger one")
	}
	w, _ := env.db.GetWaypoint(ctx, "alice", b.ID)
	if w == nil || w.DstID != a.ID {
		t.Errorf("edge = %+v, want %s", w, a.ID)
	}
}

func TestQueryExpandsWaypoint(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Engine.Weights = config.Weights{Link: 1}
	})
	ctx := context.Background()
	target := env.add(t, "alice", "user likes dark mode")
	env.add(t, "alice", "user likes dark mode a lot")
	assoc := env.add(t, "alice", "grandma bakes plum cake on sundays")

	if _, err := env.db.OfferWaypoint(ctx, store.Waypoint{
		Namespace: "alice", SrcID: target.ID, DstID: assoc.ID, Weight: 1, UpdatedAt: env.clock.Now(),
	}); err != nil {
		t.Fatalf("OfferWaypoint: %v", err)
	}

	results, err := env.e.Query(ctx, QueryInput{
		Namespace: "alice",
		Text:      "user likes dark mode",
		K:         1,
		Sectors:   []sector.Sector{sector.Semantic},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != assoc.ID {
		t.Fatalf("results = %+v, want the waypoint destination", results)
	}
	if !results[0].ViaWaypoint || results[0].LinkWeight != 1 {
		t.Errorf("result = %+v, want via waypoint with weight 1", results[0])
	}
}

func TestQueryPrunesDanglingWaypoint(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a := env.add(t, "alice", "alpha bravo charlie delta echo foxtrot")
	b := env.add(t, "alice", "alpha bravo charlie delta echo foxtrot golf")
	if b.Waypoint == nil {
		t.Fatal("expected b -> a")
	}
	if err := env.e.Delete(ctx, "alice", a.ID, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	results, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: "alpha bravo charlie delta echo foxtrot golf"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, r := range results {
		if r.ID == a.ID {
			t.Error("deleted memory returned through waypoint")
		}
	}
	if w, _ := env.db.GetWaypoint(ctx, "alice", b.ID); w != nil {
		t.Errorf("dangling edge %+v not pruned", w)
	}
	if env.e.Stats().EdgesPruned != 1 {
		t.Errorf("EdgesPruned = %d, want 1", env.e.Stats().EdgesPruned)
	}
}

func TestRankTieBreaksByCreatedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older := &store.Memory{ID: "b", Salience: 0.5, CreatedAt: now.Add(-time.Hour), LastAccessedAt: now}
	newer := &store.Memory{ID: "a", Salience: 0.5, CreatedAt: now.Add(-time.Minute), LastAccessedAt: now}
	w := config.Default().Engine.Weights
	results := rank([]candidate{
		{mem: older, similarity: 0.8},
		{mem: newer, similarity: 0.8},
	}, w, now, 7*24*time.Hour, 10)
	if results[0].ID != "a" {
		t.Errorf("tie went to %s, want the newer memory", results[0].ID)
	}
}

func TestScoreWeights(t *testing.T) {
	w := config.Default().Engine.Weights
	got := score(w, 1, 1, 1, 1)
	if diff := got - 1.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score(1,1,1,1) = %v, want 1", got)
	}
	got = score(w, 0.5, 0, 0, 0)
	if diff := got - 0.3; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score(0.5,0,0,0) = %v, want 0.3", got)
	}
}

func TestRecencyUsesLastAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hl := 7 * 24 * time.Hour
	m := &store.Memory{CreatedAt: now.Add(-hl)}
	if r := recency(m, now, hl); r < 0.49 || r > 0.51 {
		t.Errorf("recency from creation = %v, want 0.5", r)
	}
	m.LastAccessedAt = now
	if r := recency(m, now, hl); r != 1 {
		t.Errorf("recency after access = %v, want 1", r)
	}
}
