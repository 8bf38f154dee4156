package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/lazypower/mnemo/internal/sector"
)

// Embedding is one sector vector for a memory.
type Embedding struct {
	MemoryID string
	Sector   sector.Sector
	Vector   []float32
	Model    string
}

// encodeEmbedding converts a []float32 to a binary BLOB (4 bytes per float32).
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float32.
func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func insertEmbeddings(ctx context.Context, tx *sql.Tx, memoryID string, embs []Embedding, at time.Time) error {
	for _, e := range embs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_embeddings (memory_id, sector, embedding, dimensions, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, memoryID, string(e.Sector), encodeEmbedding(e.Vector), len(e.Vector), e.Model, millis(at))
		if err != nil {
			return fmt.Errorf("insert embedding %s/%s: %w", memoryID, e.Sector, err)
		}
	}
	return nil
}

// Embeddings returns every sector vector stored for a memory.
func (db *DB) Embeddings(ctx context.Context, memoryID string) ([]Embedding, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT memory_id, sector, embedding, model
		FROM memory_embeddings WHERE memory_id = ?
		ORDER BY sector
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("get embeddings: %w", err)
	}
	defer rows.Close()
	return scanEmbeddings(rows)
}

// EmbeddingsFor returns the vectors of several memories, keyed by memory id.
func (db *DB) EmbeddingsFor(ctx context.Context, memoryIDs []string) (map[string][]Embedding, error) {
	out := make(map[string][]Embedding, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(memoryIDs))
	for i, id := range memoryIDs {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, `
		SELECT memory_id, sector, embedding, model
		FROM memory_embeddings WHERE memory_id IN (`+placeholders(len(memoryIDs))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get embeddings: %w", err)
	}
	defer rows.Close()
	embs, err := scanEmbeddings(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range embs {
		out[e.MemoryID] = append(out[e.MemoryID], e)
	}
	return out, nil
}

func scanEmbeddings(rows *sql.Rows) ([]Embedding, error) {
	var out []Embedding
	for rows.Next() {
		var e Embedding
		var s string
		var blob []byte
		if err := rows.Scan(&e.MemoryID, &s, &blob, &e.Model); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Sector = sector.Sector(s)
		e.Vector = decodeEmbedding(blob)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IndexedEmbedding is an embedding with the fields a vector index needs.
type IndexedEmbedding struct {
	Embedding
	Namespace string
	UpdatedAt time.Time
}

// AllEmbeddings returns the embeddings of every live memory, used to
// rebuild an in-process index at startup.
func (db *DB) AllEmbeddings(ctx context.Context) ([]IndexedEmbedding, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.memory_id, e.sector, e.embedding, e.model, m.namespace, m.updated_at
		FROM memory_embeddings e JOIN memories m ON m.id = e.memory_id
		WHERE m.deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("all embeddings: %w", err)
	}
	defer rows.Close()

	var out []IndexedEmbedding
	for rows.Next() {
		var ie IndexedEmbedding
		var s string
		var blob []byte
		var updated int64
		if err := rows.Scan(&ie.MemoryID, &s, &blob, &ie.Model, &ie.Namespace, &updated); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		ie.Sector = sector.Sector(s)
		ie.Vector = decodeEmbedding(blob)
		ie.UpdatedAt = fromMillis(updated)
		out = append(out, ie)
	}
	return out, rows.Err()
}
