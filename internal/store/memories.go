package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/mnemo/internal/sector"
)

// Memory is the canonical record for one stored memory.
type Memory struct {
	ID             string
	Namespace      string
	Content        string
	PrimarySector  sector.Sector
	Sectors        []sector.Sector
	Salience       float64
	DecayedAt      time.Time // decay clock; reset by decay and reinforcement
	ReinforcedAt   time.Time
	LastAccessedAt time.Time
	Tags           []string
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      time.Time
}

// Deleted reports whether the memory has been soft-deleted.
func (m *Memory) Deleted() bool { return !m.DeletedAt.IsZero() }

const memoryColumns = `id, namespace, content, primary_sector, sectors, salience,
	decayed_at, reinforced_at, last_accessed_at, tags, metadata, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*Memory, error) {
	var m Memory
	var primary, sectorsJSON, tagsJSON, metaJSON string
	var decayed, created, updated int64
	var reinforced, accessed, deleted sql.NullInt64
	if err := r.Scan(&m.ID, &m.Namespace, &m.Content, &primary, &sectorsJSON, &m.Salience,
		&decayed, &reinforced, &accessed, &tagsJSON, &metaJSON, &created, &updated, &deleted); err != nil {
		return nil, err
	}
	m.PrimarySector = sector.Sector(primary)
	if err := json.Unmarshal([]byte(sectorsJSON), &m.Sectors); err != nil {
		return nil, fmt.Errorf("decode sectors for %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
	}
	m.DecayedAt = fromMillis(decayed)
	m.ReinforcedAt = fromNullMillis(reinforced)
	m.LastAccessedAt = fromNullMillis(accessed)
	m.CreatedAt = fromMillis(created)
	m.UpdatedAt = fromMillis(updated)
	m.DeletedAt = fromNullMillis(deleted)
	return &m, nil
}

func encodeMemoryJSON(m *Memory) (sectorsJSON, tagsJSON, metaJSON string, err error) {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	meta := m.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	s, err := json.Marshal(m.Sectors)
	if err != nil {
		return "", "", "", fmt.Errorf("encode sectors: %w", err)
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", "", fmt.Errorf("encode tags: %w", err)
	}
	md, err := json.Marshal(meta)
	if err != nil {
		return "", "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(s), string(t), string(md), nil
}

// CreateMemory inserts a memory and all of its sector embeddings in one
// transaction. Either everything is written or nothing is.
func (db *DB) CreateMemory(ctx context.Context, m *Memory, embs []Embedding) error {
	sectorsJSON, tagsJSON, metaJSON, err := encodeMemoryJSON(m)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, namespace, content, primary_sector, sectors, salience,
				decayed_at, tags, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.Namespace, m.Content, string(m.PrimarySector), sectorsJSON, m.Salience,
			millis(m.DecayedAt), tagsJSON, metaJSON, millis(m.CreatedAt), millis(m.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		return insertEmbeddings(ctx, tx, m.ID, embs, m.UpdatedAt)
	})
}

// GetMemory returns a memory by id, or nil if not found. Soft-deleted
// memories are returned with DeletedAt set.
func (db *DB) GetMemory(ctx context.Context, id string) (*Memory, error) {
	m, err := scanMemory(db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetMemories returns the live memories among ids in namespace, keyed by id.
func (db *DB) GetMemories(ctx context.Context, namespace string, ids []string) (map[string]*Memory, error) {
	out := make(map[string]*Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, namespace)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE namespace = ? AND deleted_at IS NULL AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ListMemories returns live memories in a namespace, newest first.
func (db *DB) ListMemories(ctx context.Context, namespace string, limit, offset int) ([]Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE namespace = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, namespace, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMemory writes content, sectors, tags and metadata. When embs is
// non-nil the memory's embeddings are replaced by embs in the same
// transaction.
func (db *DB) UpdateMemory(ctx context.Context, m *Memory, embs []Embedding) error {
	sectorsJSON, tagsJSON, metaJSON, err := encodeMemoryJSON(m)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET content = ?, primary_sector = ?, sectors = ?, tags = ?, metadata = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`, m.Content, string(m.PrimarySector), sectorsJSON, tagsJSON, metaJSON, millis(m.UpdatedAt), m.ID)
		if err != nil {
			return fmt.Errorf("update memory: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update memory %s: %w", m.ID, sql.ErrNoRows)
		}
		if embs == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE memory_id = ?`, m.ID); err != nil {
			return fmt.Errorf("clear embeddings: %w", err)
		}
		return insertEmbeddings(ctx, tx, m.ID, embs, m.UpdatedAt)
	})
}

// DeleteMemory removes a memory's embeddings and outgoing waypoint, then
// either marks the row deleted or removes it.
func (db *DB) DeleteMemory(ctx context.Context, id string, hard bool, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE memory_id = ?`, id); err != nil {
			return fmt.Errorf("delete embeddings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM waypoints WHERE src_id = ?`, id); err != nil {
			return fmt.Errorf("delete waypoint: %w", err)
		}
		if hard {
			if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete memory: %w", err)
			}
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
			millis(at), millis(at), id); err != nil {
			return fmt.Errorf("soft delete memory: %w", err)
		}
		return nil
	})
}

// TouchMemories records an access for each id.
func (db *DB) TouchMemories(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, millis(at))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE memories SET last_accessed_at = ? WHERE deleted_at IS NULL AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

// Reinforce adds delta to salience, clamped to [0, 1], and resets the
// decay clock. Returns the new salience, or sql.ErrNoRows if the memory
// does not exist or is deleted.
func (db *DB) Reinforce(ctx context.Context, id string, delta float64, at time.Time) (float64, error) {
	var salience float64
	err := db.QueryRowContext(ctx, `
		UPDATE memories
		SET salience = MIN(1.0, MAX(0.0, salience + ?)),
		    decayed_at = ?, reinforced_at = ?, last_accessed_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING salience
	`, delta, millis(at), millis(at), millis(at), id).Scan(&salience)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("reinforce memory: %w", err)
	}
	return salience, nil
}

// DecayTarget is a memory eligible for a decay cycle.
type DecayTarget struct {
	ID            string
	PrimarySector sector.Sector
	Salience      float64
	DecayedAt     time.Time
}

// DecayTargets returns live memories in namespace not reinforced after
// since. A zero since returns every live memory.
func (db *DB) DecayTargets(ctx context.Context, namespace string, since time.Time) ([]DecayTarget, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, primary_sector, salience, decayed_at
		FROM memories
		WHERE namespace = ? AND deleted_at IS NULL AND salience > 0
		  AND (? = 0 OR reinforced_at IS NULL OR reinforced_at <= ?)
	`, namespace, millis(since), millis(since))
	if err != nil {
		return nil, fmt.Errorf("query decay targets: %w", err)
	}
	defer rows.Close()

	var targets []DecayTarget
	for rows.Next() {
		var t DecayTarget
		var primary string
		var decayed int64
		if err := rows.Scan(&t.ID, &primary, &t.Salience, &decayed); err != nil {
			return nil, fmt.Errorf("scan decay target: %w", err)
		}
		t.PrimarySector = sector.Sector(primary)
		t.DecayedAt = fromMillis(decayed)
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// ApplyDecay writes a decayed salience if the record's decay clock still
// reads prev. Reports false when a concurrent reinforcement or decay got
// there first.
func (db *DB) ApplyDecay(ctx context.Context, id string, prev time.Time, salience float64, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE memories SET salience = ?, decayed_at = ?
		WHERE id = ? AND decayed_at = ? AND deleted_at IS NULL AND salience >= ?
	`, salience, millis(at), id, millis(prev), salience)
	if err != nil {
		return false, fmt.Errorf("apply decay: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
