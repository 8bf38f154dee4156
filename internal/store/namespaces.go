package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Namespace is a registered isolation boundary.
type Namespace struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastDecayAt time.Time `json:"last_decay_at,omitempty"`
	Memories    int       `json:"memories"`
	Facts       int       `json:"facts"`
}

// EnsureNamespace creates the namespace if it does not exist.
// Reports whether it was created.
func (db *DB) EnsureNamespace(ctx context.Context, name string, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO namespaces (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, millis(at))
	if err != nil {
		return false, fmt.Errorf("ensure namespace: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetNamespace returns a namespace with its counts, or nil if not found.
func (db *DB) GetNamespace(ctx context.Context, name string) (*Namespace, error) {
	rows, err := db.QueryContext(ctx, namespaceSelect+` WHERE n.name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("get namespace: %w", err)
	}
	defer rows.Close()
	list, err := scanNamespaces(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListNamespaces returns all namespaces ordered by name.
func (db *DB) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	rows, err := db.QueryContext(ctx, namespaceSelect+` ORDER BY n.name`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()
	return scanNamespaces(rows)
}

const namespaceSelect = `
	SELECT n.name, n.description, n.created_at, n.last_decay_at,
	       (SELECT COUNT(*) FROM memories m WHERE m.namespace = n.name AND m.deleted_at IS NULL),
	       (SELECT COUNT(*) FROM facts f WHERE f.namespace = n.name)
	FROM namespaces n`

func scanNamespaces(rows *sql.Rows) ([]Namespace, error) {
	var out []Namespace
	for rows.Next() {
		var ns Namespace
		var created int64
		var lastDecay sql.NullInt64
		if err := rows.Scan(&ns.Name, &ns.Description, &created, &lastDecay, &ns.Memories, &ns.Facts); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		ns.CreatedAt = fromMillis(created)
		ns.LastDecayAt = fromNullMillis(lastDecay)
		out = append(out, ns)
	}
	return out, rows.Err()
}

// SetNamespaceDescription updates a namespace's description.
func (db *DB) SetNamespaceDescription(ctx context.Context, name, description string) error {
	_, err := db.ExecContext(ctx, `UPDATE namespaces SET description = ? WHERE name = ?`, description, name)
	if err != nil {
		return fmt.Errorf("set namespace description: %w", err)
	}
	return nil
}

// NamespaceLastDecay returns the namespace's previous decay cycle, or zero.
func (db *DB) NamespaceLastDecay(ctx context.Context, name string) (time.Time, error) {
	var last sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT last_decay_at FROM namespaces WHERE name = ?`, name).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("namespace last decay: %w", err)
	}
	return fromNullMillis(last), nil
}

// MarkNamespaceDecayed records a completed decay cycle.
func (db *DB) MarkNamespaceDecayed(ctx context.Context, name string, at time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE namespaces SET last_decay_at = ? WHERE name = ?`, millis(at), name)
	if err != nil {
		return fmt.Errorf("mark namespace decayed: %w", err)
	}
	return nil
}
