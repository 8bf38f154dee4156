package vector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/sector"
)

// PGIndex stores vectors in Postgres with pgvector. The parent table is
// list-partitioned by namespace; every statement targets the namespace's
// partition table directly, never the parent.
type PGIndex struct {
	pool *pgxpool.Pool

	mu         sync.Mutex
	partitions map[string]string
	creating   map[string]*sync.Mutex
	dims       map[string]int // partition + "/" + sector
}

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS mnemo_vectors (
    namespace  TEXT        NOT NULL,
    sector     TEXT        NOT NULL,
    memory_id  TEXT        NOT NULL,
    embedding  vector      NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (namespace, sector, memory_id)
) PARTITION BY LIST (namespace);
`

// NewPGIndex connects to databaseURL and ensures the parent table exists.
func NewPGIndex(ctx context.Context, databaseURL string) (*PGIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create vector schema: %w", err)
	}
	return &PGIndex{
		pool:       pool,
		partitions: make(map[string]string),
		creating:   make(map[string]*sync.Mutex),
		dims:       make(map[string]int),
	}, nil
}

// partitionName derives a stable, identifier-safe table name for ns.
func partitionName(ns string) string {
	sum := sha1.Sum([]byte(ns))
	return "mnemo_vectors_" + hex.EncodeToString(sum[:8])
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// partitionLock returns the mutex serializing first use of ns.
func (x *PGIndex) partitionLock(ns string) *sync.Mutex {
	x.mu.Lock()
	defer x.mu.Unlock()
	l, ok := x.creating[ns]
	if !ok {
		l = &sync.Mutex{}
		x.creating[ns] = l
	}
	return l
}

// partition returns the sanitized partition identifier, creating the
// partition on first use when create is set. Only callers touching the
// same namespace wait on each other.
func (x *PGIndex) partition(ctx context.Context, ns string, create bool) (string, bool, error) {
	x.mu.Lock()
	ident, ok := x.partitions[ns]
	x.mu.Unlock()
	if ok {
		return ident, true, nil
	}

	l := x.partitionLock(ns)
	l.Lock()
	defer l.Unlock()
	x.mu.Lock()
	ident, ok = x.partitions[ns]
	x.mu.Unlock()
	if ok {
		return ident, true, nil
	}

	name := partitionName(ns)
	ident = pgx.Identifier{name}.Sanitize()

	var exists bool
	if err := x.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return "", false, fmt.Errorf("check partition: %w", err)
	}
	if !exists {
		if !create {
			return ident, false, nil
		}
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF mnemo_vectors FOR VALUES IN (%s)`, ident, quoteLiteral(ns))
		if _, err := x.pool.Exec(ctx, stmt); err != nil {
			return "", false, fmt.Errorf("create partition for %s: %w", ns, err)
		}
	}
	x.mu.Lock()
	x.partitions[ns] = ident
	x.mu.Unlock()
	return ident, true, nil
}

func (x *PGIndex) partitionDims(ctx context.Context, ident string, s sector.Sector) (int, error) {
	key := ident + "/" + string(s)
	x.mu.Lock()
	d, ok := x.dims[key]
	x.mu.Unlock()
	if ok {
		return d, nil
	}
	err := x.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT vector_dims(embedding) FROM %s WHERE sector = $1 LIMIT 1`, ident), string(s),
	).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("partition dims: %w", err)
	}
	x.mu.Lock()
	x.dims[key] = d
	x.mu.Unlock()
	return d, nil
}

func (x *PGIndex) Upsert(ctx context.Context, e Entry) error {
	if len(e.Vector) == 0 {
		return errs.Validation("empty vector for %s", e.ID)
	}
	ident, _, err := x.partition(ctx, e.Namespace, true)
	if err != nil {
		return err
	}
	d, err := x.partitionDims(ctx, ident, e.Sector)
	if err != nil {
		return err
	}
	if d != 0 && d != len(e.Vector) {
		return errs.Consistency("sector %s holds %d-dimensional vectors, got %d", e.Sector, d, len(e.Vector))
	}

	_, err = x.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (namespace, sector, memory_id, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, sector, memory_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at
	`, ident), e.Namespace, string(e.Sector), e.ID, pgvector.NewVector(e.Vector), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	if d == 0 {
		x.mu.Lock()
		x.dims[ident+"/"+string(e.Sector)] = len(e.Vector)
		x.mu.Unlock()
	}
	return nil
}

func (x *PGIndex) Remove(ctx context.Context, ns string, s sector.Sector, id string) error {
	ident, ok, err := x.partition(ctx, ns, false)
	if err != nil || !ok {
		return err
	}
	_, err = x.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE sector = $1 AND memory_id = $2`, ident), string(s), id)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

func (x *PGIndex) Search(ctx context.Context, ns string, s sector.Sector, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	ident, ok, err := x.partition(ctx, ns, false)
	if err != nil || !ok {
		return nil, err
	}
	d, err := x.partitionDims(ctx, ident, s)
	if err != nil {
		return nil, err
	}
	if d == 0 {
		return nil, nil
	}
	if d != len(query) {
		return nil, errs.Consistency("sector %s holds %d-dimensional vectors, query has %d", s, d, len(query))
	}

	rows, err := x.pool.Query(ctx, fmt.Sprintf(`
		SELECT memory_id, 1 - (embedding <=> $1) AS similarity, updated_at
		FROM %s
		WHERE sector = $2
		ORDER BY embedding <=> $1, updated_at DESC
		LIMIT $3
	`, ident), pgvector.NewVector(query), string(s), k)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var updated time.Time
		if err := rows.Scan(&h.ID, &h.Similarity, &updated); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.UpdatedAt = updated
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortHits(hits)
	return hits, nil
}

func (x *PGIndex) Count(ctx context.Context, ns string, s sector.Sector) (int, error) {
	ident, ok, err := x.partition(ctx, ns, false)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	if err := x.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sector = $1`, ident), string(s),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

func (x *PGIndex) Close() error {
	x.pool.Close()
	return nil
}
