package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/sector"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"opposite", Vector{1, 2}, Vector{-1, -2}, -1},
		{"length mismatch", Vector{1}, Vector{1, 2}, 0},
		{"empty", Vector{}, Vector{}, 0},
		{"zero", Vector{0, 0}, Vector{1, 1}, 0},
	}
	for _, tt := range tests {
		if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(128)
	ctx := context.Background()
	a, _ := h.Embed(ctx, "user likes dark mode", sector.Semantic)
	b, _ := h.Embed(ctx, "user likes dark mode", sector.Semantic)
	if len(a) != 128 {
		t.Fatalf("len = %d", len(a))
	}
	if CosineSimilarity(a, b) < 0.9999 {
		t.Error("same text should embed identically")
	}
}

func TestHashEmbedderSimilarity(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()
	base, _ := h.Embed(ctx, "the deployment pipeline runs integration tests before every release to production", sector.Procedural)
	near, _ := h.Embed(ctx, "the deployment pipeline runs integration tests before each release to production", sector.Procedural)
	far, _ := h.Embed(ctx, "grandma bakes plum cake on sundays", sector.Procedural)

	simNear := CosineSimilarity(base, near)
	simFar := CosineSimilarity(base, far)
	if simNear < 0.8 {
		t.Errorf("near similarity = %v, want >= 0.8", simNear)
	}
	if simFar >= simNear {
		t.Errorf("far similarity %v should be below near %v", simFar, simNear)
	}
	if simFar > 0.5 {
		t.Errorf("far similarity = %v, want < 0.5", simFar)
	}
}

func TestHashEmbedderSectorSpaces(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()
	a, _ := h.Embed(ctx, "the deployment pipeline runs integration tests", sector.Semantic)
	b, _ := h.Embed(ctx, "the deployment pipeline runs integration tests", sector.Emotional)
	if CosineSimilarity(a, b) > 0.9 {
		t.Error("sectors should hash into different spaces")
	}
}

func TestHashEmbedderNoTokens(t *testing.T) {
	v, err := NewHashEmbedder(16).Embed(context.Background(), "!!!", sector.Semantic)
	if err != nil {
		t.Fatal(err)
	}
	if isZero(v) {
		t.Error("token-less text should still get a non-zero vector")
	}
}

type slowEmbedder struct{ delay time.Duration }

func (s slowEmbedder) Model() string   { return "slow" }
func (s slowEmbedder) Dimensions() int { return 4 }
func (s slowEmbedder) Embed(ctx context.Context, _ string, _ sector.Sector) (Vector, error) {
	select {
	case <-time.After(s.delay):
		return Vector{1, 0, 0, 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestGuardTimeout(t *testing.T) {
	g := Guarded(slowEmbedder{delay: time.Second}, 4, 20*time.Millisecond)
	_, err := g.Embed(context.Background(), "x", sector.Semantic)
	if !errors.Is(err, errs.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline cause", err)
	}
}

func TestGuardDimensionMismatch(t *testing.T) {
	g := Guarded(NewHashEmbedder(8), 16, time.Second)
	_, err := g.Embed(context.Background(), "hello world", sector.Semantic)
	if !errors.Is(err, errs.ErrConsistency) {
		t.Fatalf("err = %v, want ErrConsistency", err)
	}
}

type countingEmbedder struct {
	HashEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, s sector.Sector) (Vector, error) {
	c.calls.Add(1)
	return c.HashEmbedder.Embed(ctx, text, s)
}

func TestCached(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: *NewHashEmbedder(32)}
	c, err := NewCached(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	first, _ := c.Embed(ctx, "cache me", sector.Semantic)
	c.cache.Wait()
	first[0] = 42 // must not poison the cache
	second, _ := c.Embed(ctx, "cache me", sector.Semantic)

	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner calls = %d, want 1", n)
	}
	if second[0] == 42 {
		t.Error("cached vector was mutated through a returned slice")
	}

	c.Embed(ctx, "cache me", sector.Episodic)
	if n := inner.calls.Load(); n != 2 {
		t.Errorf("inner calls = %d, want 2 (sector is part of the key)", n)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "nomic-embed-text" {
			t.Errorf("model = %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	o := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 3)
	vec, err := o.Embed(context.Background(), "hi", sector.Semantic)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
	if o.Model() != "ollama:nomic-embed-text" {
		t.Errorf("Model = %q", o.Model())
	}
	if !ProbeOllama(srv.URL, "nomic-embed-text") {
		t.Error("ProbeOllama should succeed against a live server")
	}
}

func TestOllamaEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	g := Guarded(NewOllamaEmbedder(srv.URL, "missing", 3), 3, time.Second)
	if _, err := g.Embed(context.Background(), "hi", sector.Semantic); !errors.Is(err, errs.ErrEmbedding) {
		t.Errorf("err = %v, want ErrEmbedding", err)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "sk-test", "tiny", 2)
	vec, err := e.Embed(context.Background(), "hi", sector.Semantic)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 1 {
		t.Errorf("vec = %v", vec)
	}
}
