package store

import (
	"context"
	"testing"
	"time"
)

func TestOfferWaypoint(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedNamespace(t, db, "ns")
	at := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		db.CreateMemory(ctx, newMemory(id, "ns", id, at), nil)
	}

	tests := []struct {
		dst    string
		weight float64
		wrote  bool
		want   string
	}{
		{"b", 0.80, true, "b"},  // first edge
		{"c", 0.70, false, "b"}, // weaker loses
		{"c", 0.80, false, "b"}, // equal loses
		{"c", 0.85, true, "c"},  // stronger wins
		{"c", 0.76, true, "c"},  // same destination is recomputed
	}
	for i, tt := range tests {
		wrote, err := db.OfferWaypoint(ctx, Waypoint{Namespace: "ns", SrcID: "a", DstID: tt.dst, Weight: tt.weight, UpdatedAt: at})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if wrote != tt.wrote {
			t.Errorf("step %d: wrote = %v, want %v", i, wrote, tt.wrote)
		}
		w, _ := db.GetWaypoint(ctx, "ns", "a")
		if w == nil || w.DstID != tt.want {
			t.Errorf("step %d: edge = %+v, want dst %s", i, w, tt.want)
		}
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM waypoints WHERE src_id = 'a'`).Scan(&n)
	if n != 1 {
		t.Errorf("outgoing edges from a = %d, want 1", n)
	}
}

func TestOfferWaypointRejectsSelf(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedNamespace(t, db, "ns")
	db.CreateMemory(ctx, newMemory("a", "ns", "a", time.Now()), nil)
	if _, err := db.OfferWaypoint(ctx, Waypoint{Namespace: "ns", SrcID: "a", DstID: "a", Weight: 1, UpdatedAt: time.Now()}); err == nil {
		t.Error("self edge should violate the schema check")
	}
}

func TestPruneAndLookup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedNamespace(t, db, "ns")
	at := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		db.CreateMemory(ctx, newMemory(id, "ns", id, at), nil)
	}
	db.OfferWaypoint(ctx, Waypoint{Namespace: "ns", SrcID: "a", DstID: "b", Weight: 0.9, UpdatedAt: at})
	db.OfferWaypoint(ctx, Waypoint{Namespace: "ns", SrcID: "c", DstID: "b", Weight: 0.8, UpdatedAt: at})

	edges, err := db.WaypointsFrom(ctx, "ns", []string{"a", "b", "c"})
	if err != nil || len(edges) != 2 {
		t.Fatalf("WaypointsFrom = %v, %v", edges, err)
	}
	if other, _ := db.WaypointsFrom(ctx, "elsewhere", []string{"a"}); len(other) != 0 {
		t.Error("waypoints leaked across namespaces")
	}

	if ok, _ := db.PruneWaypoint(ctx, "ns", "a", "c"); ok {
		t.Error("prune with wrong dst should be a no-op")
	}
	if ok, _ := db.PruneWaypoint(ctx, "ns", "a", "b"); !ok {
		t.Error("prune should remove a->b")
	}
	if err := db.DeleteWaypoint(ctx, "ns", "c"); err != nil {
		t.Fatal(err)
	}
	if edges, _ := db.WaypointsFrom(ctx, "ns", []string{"a", "c"}); len(edges) != 0 {
		t.Errorf("edges left = %v", edges)
	}
}
