package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lazypower/mnemo/internal/config"
	"github.com/lazypower/mnemo/internal/embedding"
	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/sector"
	"github.com/lazypower/mnemo/internal/store"
	"github.com/lazypower/mnemo/internal/vector"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	e     *Engine
	db    *store.DB
	index vector.Index
	clock *testClock
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	db := testDB(t)
	cfg := config.Default()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	o := Options{
		DB:        db,
		Index:     vector.NewChromemIndex(),
		Embedder:  embedding.NewHashEmbedder(256),
		Engine:    cfg.Engine,
		HalfLives: cfg.Decay.HalfLives,
		Clock:     clock.Now,
	}
	if mutate != nil {
		mutate(&o)
	}
	e, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{e: e, db: db, index: o.Index, clock: clock}
}

func (env *testEnv) add(t *testing.T, ns, content string) *AddResult {
	t.Helper()
	res, err := env.e.Add(context.Background(), AddInput{Namespace: ns, Content: content})
	if err != nil {
		t.Fatalf("Add %q: %v", content, err)
	}
	return res
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}

func TestAddAndGet(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.add(t, "alice", "user likes dark mode")
	if res.PrimarySector != sector.Semantic {
		t.Errorf("primary = %s, want semantic", res.PrimarySector)
	}
	if res.Salience != 1.0 {
		t.Errorf("salience = %v, want 1.0", res.Salience)
	}

	m, err := env.e.Get(ctx, "alice", res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Content != "user likes dark mode" {
		t.Errorf("content = %q", m.Content)
	}
	if m.LastAccessedAt == nil {
		t.Error("Get should record access")
	}

	embs, err := env.db.Embeddings(ctx, res.ID)
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(embs) != len(res.Sectors) {
		t.Errorf("stored %d embeddings, want one per sector (%d)", len(embs), len(res.Sectors))
	}
}

func TestAddHintAndSalience(t *testing.T) {
	env := newTestEnv(t, nil)
	sal := 0.4
	res, err := env.e.Add(context.Background(), AddInput{
		Namespace: "alice",
		Content:   "user likes dark mode",
		Sector:    sector.Procedural,
		Salience:  &sal,
		Tags:      []string{"UI Prefs", "ui-prefs", "ui-prefs"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if res.PrimarySector != sector.Procedural {
		t.Errorf("primary = %s, want procedural", res.PrimarySector)
	}
	if res.Salience != 0.4 {
		t.Errorf("salience = %v, want 0.4", res.Salience)
	}
	m, _ := env.e.Get(context.Background(), "alice", res.ID)
	if want := []string{"UI Prefs", "ui-prefs", "ui-prefs"}; !slices.Equal(m.Tags, want) {
		t.Errorf("tags = %q, want %q", m.Tags, want)
	}
}

func TestAddValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	bad := 1.5
	cases := []struct {
		name string
		in   AddInput
	}{
		{"empty content", AddInput{Namespace: "a", Content: "   "}},
		{"empty namespace", AddInput{Namespace: "", Content: "x"}},
		{"bad namespace", AddInput{Namespace: "a b", Content: "x"}},
		{"bad sector", AddInput{Namespace: "a", Content: "x", Sector: "musical"}},
		{"bad salience", AddInput{Namespace: "a", Content: "x", Salience: &bad}},
		{"blank tag", AddInput{Namespace: "a", Content: "x", Tags: []string{"ok", " "}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.e.Add(context.Background(), tc.in)
			if !errors.Is(err, errs.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestNamespaceIsolation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.add(t, "alice", "user likes dark mode")

	results, err := env.e.Query(ctx, QueryInput{Namespace: "bob", Text: "user likes dark mode"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("bob sees %d of alice's memories", len(results))
	}

	if _, err := env.e.Get(ctx, "bob", res.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("cross-namespace Get err = %v, want forbidden", err)
	}
	if _, err := env.e.Get(ctx, "alice", "no-such-id"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing Get err = %v, want not found", err)
	}
	if err := env.e.Delete(ctx, "bob", res.ID, false); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("cross-namespace Delete err = %v, want forbidden", err)
	}
	if _, err := env.e.Reinforce(ctx, ReinforceInput{Namespace: "bob", ID: res.ID}); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("cross-namespace Reinforce err = %v, want forbidden", err)
	}
}

type failingEmbedder struct {
	embedding.Embedder
}

func (f failingEmbedder) Embed(context.Context, string, sector.Sector) (embedding.Vector, error) {
	return nil, errors.New("provider down")
}

func TestAddEmbeddingFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Embedder = failingEmbedder{embedding.NewHashEmbedder(256)}
	})
	ctx := context.Background()
	_, err := env.e.Add(ctx, AddInput{Namespace: "alice", Content: "user likes dark mode"})
	if !errors.Is(err, errs.ErrEmbedding) {
		t.Fatalf("err = %v, want embedding error", err)
	}
	mems, err := env.db.ListMemories(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(mems) != 0 {
		t.Errorf("found %d memories after failed add", len(mems))
	}
}

// flakyIndex fails the nth Upsert.
type flakyIndex struct {
	vector.Index
	failOn int32
	calls  atomic.Int32
}

func (f *flakyIndex) Upsert(ctx context.Context, e vector.Entry) error {
	if f.calls.Add(1) == f.failOn {
		return errors.New("index unavailable")
	}
	return f.Index.Upsert(ctx, e)
}

func TestAddIndexFailureRollsBack(t *testing.T) {
	inner := vector.NewChromemIndex()
	flaky := &flakyIndex{Index: inner, failOn: 2}
	env := newTestEnv(t, func(o *Options) { o.Index = flaky })
	ctx := context.Background()

	// Emotional with an episodic secondary: two sector vectors.
	_, err := env.e.Add(ctx, AddInput{Namespace: "alice", Content: "yesterday I felt happy"})
	if err == nil {
		t.Fatal("expected index failure")
	}
	mems, _ := env.db.ListMemories(ctx, "alice", 10, 0)
	if len(mems) != 0 {
		t.Errorf("found %d memories after rollback", len(mems))
	}
	for _, s := range sector.All() {
		if n, _ := inner.Count(ctx, "alice", s); n != 0 {
			t.Errorf("sector %s still holds %d vectors", s, n)
		}
	}
}

func TestUpdateIndexFailureKeepsOldContent(t *testing.T) {
	inner := vector.NewChromemIndex()
	// Call 1 indexes the semantic add; the update writes emotional (2)
	// and fails on episodic (3).
	flaky := &flakyIndex{Index: inner, failOn: 3}
	env := newTestEnv(t, func(o *Options) { o.Index = flaky })
	ctx := context.Background()

	orig := "the capital of France is Paris"
	res := env.add(t, "alice", orig)
	content := "yesterday I felt happy"
	if _, err := env.e.Update(ctx, UpdateInput{Namespace: "alice", ID: res.ID, Content: &content}); err == nil {
		t.Fatal("expected index failure")
	}

	m, err := env.db.GetMemory(ctx, res.ID)
	if err != nil || m == nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if m.Content != orig {
		t.Errorf("content = %q, want the original", m.Content)
	}
	for _, s := range sector.All() {
		want := 0
		if m.PrimarySector == s {
			want = 1
		}
		if n, _ := inner.Count(ctx, "alice", s); n != want {
			t.Errorf("sector %s holds %d vectors, want %d", s, n, want)
		}
	}
	results, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: orig, K: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != res.ID {
		t.Errorf("query for original content = %+v", results)
	}
}

func TestDelete(t *testing.T) {
	for _, hard := range []bool{false, true} {
		env := newTestEnv(t, nil)
		ctx := context.Background()
		res := env.add(t, "alice", "user likes dark mode")

		if err := env.e.Delete(ctx, "alice", res.ID, hard); err != nil {
			t.Fatalf("Delete(hard=%v): %v", hard, err)
		}
		if _, err := env.e.Get(ctx, "alice", res.ID); !errors.Is(err, errs.ErrNotFound) {
			t.Errorf("Get after delete err = %v, want not found", err)
		}
		if err := env.e.Delete(ctx, "alice", res.ID, hard); !errors.Is(err, errs.ErrNotFound) {
			t.Errorf("second Delete err = %v, want not found", err)
		}
		results, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: "user likes dark mode"})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("deleted memory still retrievable (hard=%v)", hard)
		}

		raw, _ := env.db.GetMemory(ctx, res.ID)
		if hard && raw != nil {
			t.Error("hard delete left the row")
		}
		if !hard && (raw == nil || !raw.Deleted()) {
			t.Error("soft delete should keep a marked row")
		}
	}
}

func TestUpdateReembeds(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.add(t, "alice", "user likes dark mode")
	env.add(t, "alice", "user prefers vim keybindings")

	content := "I feel anxious about the release"
	up, err := env.e.Update(ctx, UpdateInput{Namespace: "alice", ID: res.ID, Content: &content})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !up.Updated || !up.Reembedded {
		t.Errorf("update = %+v, want updated and reembedded", up)
	}
	if up.PrimarySector != sector.Emotional {
		t.Errorf("primary = %s, want emotional", up.PrimarySector)
	}
	if n, _ := env.index.Count(ctx, "alice", sector.Semantic); n != 1 {
		t.Errorf("semantic partition holds %d vectors, want only the untouched memory", n)
	}

	results, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: content, K: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != res.ID {
		t.Errorf("query for new content = %+v", results)
	}
}

func TestUpdateNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.add(t, "alice", "user likes dark mode")
	same := "user likes dark mode"
	up, err := env.e.Update(context.Background(), UpdateInput{Namespace: "alice", ID: res.ID, Content: &same})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.Updated {
		t.Error("identical content should not count as an update")
	}
}

func TestReinforceBounds(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sal := 0.95
	res, err := env.e.Add(ctx, AddInput{Namespace: "alice", Content: "user likes dark mode", Salience: &sal})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := env.e.Reinforce(ctx, ReinforceInput{ID: res.ID})
	if err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	if got != 1.0 {
		t.Errorf("salience = %v, want clamp to 1.0", got)
	}
	got, err = env.e.Reinforce(ctx, ReinforceInput{Namespace: "alice", ID: res.ID, Boost: -1})
	if err != nil {
		t.Fatalf("Reinforce negative: %v", err)
	}
	if got != 0 {
		t.Errorf("salience = %v, want clamp to 0", got)
	}
	if _, err := env.e.Reinforce(ctx, ReinforceInput{ID: res.ID, Boost: 2}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("boost 2 err = %v, want validation", err)
	}
	if _, err := env.e.Reinforce(ctx, ReinforceInput{ID: "missing"}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing err = %v, want not found", err)
	}
}

func TestReindex(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.add(t, "alice", "user likes dark mode")
	env.add(t, "bob", "the build server compiles nightly")

	// Fresh engine over the same database with an empty index.
	cfg := config.Default()
	e2, err := New(Options{
		DB:        env.db,
		Index:     vector.NewChromemIndex(),
		Embedder:  embedding.NewHashEmbedder(256),
		Engine:    cfg.Engine,
		HalfLives: cfg.Decay.HalfLives,
		Clock:     env.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, err := e2.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n < 2 {
		t.Errorf("reindexed %d vectors, want at least 2", n)
	}
	results, err := e2.Query(ctx, QueryInput{Namespace: "alice", Text: "user likes dark mode", K: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != res.ID {
		t.Errorf("results after reindex = %+v", results)
	}
}

func TestConcurrentWritesAndQueries(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	const base = "alpha bravo charlie delta echo foxtrot"
	seed := env.add(t, "alice", base)

	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				content := fmt.Sprintf("%s w%d n%d", base, w, i)
				if _, err := env.e.Add(ctx, AddInput{Namespace: "alice", Content: content}); err != nil {
					t.Errorf("Add %q: %v", content, err)
				}
			}
		}(w)
	}
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				results, err := env.e.Query(ctx, QueryInput{Namespace: "alice", Text: base, K: 10})
				if err != nil {
					t.Errorf("Query: %v", err)
					return
				}
				for _, res := range results {
					if _, err := env.e.Get(ctx, "alice", res.ID); err != nil {
						t.Errorf("result %s does not resolve: %v", res.ID, err)
					}
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			content := fmt.Sprintf("%s golf %d", base, i)
			if _, err := env.e.Update(ctx, UpdateInput{Namespace: "alice", ID: seed.ID, Content: &content}); err != nil {
				t.Errorf("Update: %v", err)
			}
		}
	}()
	wg.Wait()

	mems, err := env.db.ListMemories(ctx, "alice", 100, 0)
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(mems) != 31 {
		t.Errorf("stored %d memories, want 31", len(mems))
	}

	rows, err := env.db.QueryContext(ctx, `
		SELECT src_id, dst_id, weight, (SELECT COUNT(*) FROM waypoints w2 WHERE w2.src_id = w.src_id)
		FROM waypoints w WHERE namespace = ?
	`, "alice")
	if err != nil {
		t.Fatalf("query waypoints: %v", err)
	}
	type edge struct {
		src, dst string
		weight   float64
		n        int
	}
	var edges []edge
	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.src, &e.dst, &e.weight, &e.n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		edges = append(edges, e)
	}
	rows.Close()
	if len(edges) == 0 {
		t.Fatal("near-duplicate content produced no waypoints")
	}
	for _, e := range edges {
		if e.n != 1 {
			t.Errorf("%s has %d outgoing edges", e.src, e.n)
		}
		if e.src == e.dst {
			t.Errorf("%s links to itself", e.src)
		}
		if e.weight < env.e.cfg.WaypointFloor || e.weight > 1 {
			t.Errorf("%s -> %s weight %v outside [floor, 1]", e.src, e.dst, e.weight)
		}
		if dst, _ := env.db.GetMemory(ctx, e.dst); dst == nil || dst.Namespace != "alice" {
			t.Errorf("%s links to %s outside the namespace", e.src, e.dst)
		}
	}
}
