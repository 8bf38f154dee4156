package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Waypoint is a memory's single outgoing associative edge.
type Waypoint struct {
	Namespace string
	SrcID     string
	DstID     string
	Weight    float64
	UpdatedAt time.Time
}

// OfferWaypoint writes w as src's outgoing edge when src has none, when the
// existing edge points at the same destination, or when w is strictly
// stronger. The comparison and write are a single statement. Reports
// whether the edge was written.
func (db *DB) OfferWaypoint(ctx context.Context, w Waypoint) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO waypoints (namespace, src_id, dst_id, weight, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, src_id) DO UPDATE
		SET dst_id = excluded.dst_id, weight = excluded.weight, updated_at = excluded.updated_at
		WHERE excluded.weight > waypoints.weight OR excluded.dst_id = waypoints.dst_id
	`, w.Namespace, w.SrcID, w.DstID, w.Weight, millis(w.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("offer waypoint: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetWaypoint returns src's outgoing edge, or nil.
func (db *DB) GetWaypoint(ctx context.Context, namespace, srcID string) (*Waypoint, error) {
	var w Waypoint
	var updated int64
	err := db.QueryRowContext(ctx, `
		SELECT namespace, src_id, dst_id, weight, updated_at
		FROM waypoints WHERE namespace = ? AND src_id = ?
	`, namespace, srcID).Scan(&w.Namespace, &w.SrcID, &w.DstID, &w.Weight, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get waypoint: %w", err)
	}
	w.UpdatedAt = fromMillis(updated)
	return &w, nil
}

// WaypointsFrom returns the outgoing edges of srcIDs, keyed by source.
func (db *DB) WaypointsFrom(ctx context.Context, namespace string, srcIDs []string) (map[string]Waypoint, error) {
	out := make(map[string]Waypoint, len(srcIDs))
	if len(srcIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(srcIDs)+1)
	args = append(args, namespace)
	for _, id := range srcIDs {
		args = append(args, id)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT namespace, src_id, dst_id, weight, updated_at
		FROM waypoints WHERE namespace = ? AND src_id IN (`+placeholders(len(srcIDs))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("waypoints from: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var w Waypoint
		var updated int64
		if err := rows.Scan(&w.Namespace, &w.SrcID, &w.DstID, &w.Weight, &updated); err != nil {
			return nil, fmt.Errorf("scan waypoint: %w", err)
		}
		w.UpdatedAt = fromMillis(updated)
		out[w.SrcID] = w
	}
	return out, rows.Err()
}

// DeleteWaypoint removes src's outgoing edge.
func (db *DB) DeleteWaypoint(ctx context.Context, namespace, srcID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM waypoints WHERE namespace = ? AND src_id = ?`, namespace, srcID); err != nil {
		return fmt.Errorf("delete waypoint: %w", err)
	}
	return nil
}

// PruneWaypoint removes src's edge only if it still points at dstID.
func (db *DB) PruneWaypoint(ctx context.Context, namespace, srcID, dstID string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM waypoints WHERE namespace = ? AND src_id = ? AND dst_id = ?`, namespace, srcID, dstID)
	if err != nil {
		return false, fmt.Errorf("prune waypoint: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
