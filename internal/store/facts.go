package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrFactOrder is returned when a new fact would start before, or at the
// same instant as, history already recorded for its subject and predicate.
var ErrFactOrder = errors.New("fact starts before existing history")

// Fact is one validity interval for (subject, predicate) in a namespace.
// A zero ValidTo means the fact is open (currently true).
type Fact struct {
	ID         string
	Namespace  string
	Subject    string
	Predicate  string
	Object     string
	ValidFrom  time.Time
	ValidTo    time.Time
	Confidence float64
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DecayedAt  time.Time
}

// Open reports whether the fact has no end.
func (f *Fact) Open() bool { return f.ValidTo.IsZero() }

// Covers reports whether t falls in [ValidFrom, ValidTo).
func (f *Fact) Covers(t time.Time) bool {
	if t.Before(f.ValidFrom) {
		return false
	}
	return f.Open() || t.Before(f.ValidTo)
}

const factColumns = `id, namespace, subject, predicate, object, valid_from, valid_to,
	confidence, metadata, created_at, updated_at, decayed_at`

func scanFact(r rowScanner) (*Fact, error) {
	var f Fact
	var from, created, updated int64
	var to, decayed sql.NullInt64
	var meta string
	if err := r.Scan(&f.ID, &f.Namespace, &f.Subject, &f.Predicate, &f.Object, &from, &to,
		&f.Confidence, &meta, &created, &updated, &decayed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &f.Metadata); err != nil {
		return nil, fmt.Errorf("decode fact metadata %s: %w", f.ID, err)
	}
	f.ValidFrom = time.UnixMilli(from).UTC()
	f.ValidTo = fromNullMillis(to)
	f.CreatedAt = fromMillis(created)
	f.UpdatedAt = fromMillis(updated)
	f.DecayedAt = fromNullMillis(decayed)
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func encodeMeta(meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

// FactWrite describes the outcome of InsertFact.
type FactWrite struct {
	Fact    Fact
	Closed  *Fact // previous open fact, now closed at Fact.ValidFrom
	Updated bool  // same object as the open fact; confidence/metadata refreshed
}

// InsertFact records f as the open fact for its (namespace, subject,
// predicate). In one transaction it either refreshes the open fact when
// the object is unchanged, or closes the open fact at f.ValidFrom and
// inserts f. Returns ErrFactOrder when f.ValidFrom is not after the open
// fact's start or precedes the end of a closed interval.
func (db *DB) InsertFact(ctx context.Context, f Fact) (FactWrite, error) {
	meta, err := encodeMeta(f.Metadata)
	if err != nil {
		return FactWrite{}, err
	}
	var out FactWrite
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		open, err := scanFact(tx.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts
			WHERE namespace = ? AND subject = ? AND predicate = ? AND valid_to IS NULL`,
			f.Namespace, f.Subject, f.Predicate))
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("find open fact: %w", err)
		}
		if err == sql.ErrNoRows {
			open = nil
		}

		if open != nil && open.Object == f.Object {
			if _, err := tx.ExecContext(ctx, `
				UPDATE facts SET confidence = ?, metadata = ?, updated_at = ?, decayed_at = NULL WHERE id = ?
			`, f.Confidence, meta, millis(f.UpdatedAt), open.ID); err != nil {
				return fmt.Errorf("refresh open fact: %w", err)
			}
			open.Confidence = f.Confidence
			open.Metadata = f.Metadata
			open.UpdatedAt = f.UpdatedAt
			open.DecayedAt = time.Time{}
			out = FactWrite{Fact: *open, Updated: true}
			return nil
		}

		if open != nil {
			if !f.ValidFrom.After(open.ValidFrom) {
				return fmt.Errorf("%w: %s is not after open fact start %s", ErrFactOrder,
					f.ValidFrom.Format(time.RFC3339Nano), open.ValidFrom.Format(time.RFC3339Nano))
			}
			if _, err := tx.ExecContext(ctx, `UPDATE facts SET valid_to = ?, updated_at = ? WHERE id = ?`,
				millis(f.ValidFrom), millis(f.UpdatedAt), open.ID); err != nil {
				return fmt.Errorf("close open fact: %w", err)
			}
			open.ValidTo = f.ValidFrom
			open.UpdatedAt = f.UpdatedAt
			out.Closed = open
		} else {
			var lastEnd sql.NullInt64
			if err := tx.QueryRowContext(ctx, `SELECT MAX(valid_to) FROM facts
				WHERE namespace = ? AND subject = ? AND predicate = ?`,
				f.Namespace, f.Subject, f.Predicate).Scan(&lastEnd); err != nil {
				return fmt.Errorf("find last interval: %w", err)
			}
			if lastEnd.Valid && millis(f.ValidFrom) < lastEnd.Int64 {
				return fmt.Errorf("%w: %s precedes end of previous interval", ErrFactOrder,
					f.ValidFrom.Format(time.RFC3339Nano))
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO facts (id, namespace, subject, predicate, object, valid_from, confidence, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.Namespace, f.Subject, f.Predicate, f.Object, millis(f.ValidFrom), f.Confidence, meta,
			millis(f.CreatedAt), millis(f.UpdatedAt)); err != nil {
			return fmt.Errorf("insert fact: %w", err)
		}
		out.Fact = f
		return nil
	})
	return out, err
}

// GetFact returns a fact by id, or nil.
func (db *DB) GetFact(ctx context.Context, id string) (*Fact, error) {
	f, err := scanFact(db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fact: %w", err)
	}
	return f, nil
}

// OpenFact returns the open fact for (subject, predicate), or nil.
func (db *DB) OpenFact(ctx context.Context, namespace, subject, predicate string) (*Fact, error) {
	f, err := scanFact(db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts
		WHERE namespace = ? AND subject = ? AND predicate = ? AND valid_to IS NULL`,
		namespace, subject, predicate))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open fact: %w", err)
	}
	return f, nil
}

// FactAt returns the fact whose interval covers at, or nil.
func (db *DB) FactAt(ctx context.Context, namespace, subject, predicate string, at time.Time) (*Fact, error) {
	ms := at.UnixMilli()
	f, err := scanFact(db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts
		WHERE namespace = ? AND subject = ? AND predicate = ?
		  AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY valid_from DESC LIMIT 1`,
		namespace, subject, predicate, ms, ms))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fact at: %w", err)
	}
	return f, nil
}

// FactsAt returns, for every predicate of subject, the fact covering at.
func (db *DB) FactsAt(ctx context.Context, namespace, subject string, at time.Time) ([]Fact, error) {
	ms := at.UnixMilli()
	rows, err := db.QueryContext(ctx, `SELECT `+factColumns+` FROM facts
		WHERE namespace = ? AND subject = ?
		  AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY predicate`, namespace, subject, ms, ms)
	if err != nil {
		return nil, fmt.Errorf("facts at: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// Timeline returns every interval for (subject, predicate) ordered by start.
func (db *DB) Timeline(ctx context.Context, namespace, subject, predicate string) ([]Fact, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+factColumns+` FROM facts
		WHERE namespace = ? AND subject = ? AND predicate = ?
		ORDER BY valid_from ASC`, namespace, subject, predicate)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// CloseFact ends the open fact for (subject, predicate) at at. Returns the
// closed fact, or nil if none was open. ErrFactOrder if at is not after
// the fact's start.
func (db *DB) CloseFact(ctx context.Context, namespace, subject, predicate string, at time.Time) (*Fact, error) {
	var closed *Fact
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		open, err := scanFact(tx.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts
			WHERE namespace = ? AND subject = ? AND predicate = ? AND valid_to IS NULL`,
			namespace, subject, predicate))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find open fact: %w", err)
		}
		if !at.After(open.ValidFrom) {
			return fmt.Errorf("%w: close at %s is not after start", ErrFactOrder, at.Format(time.RFC3339Nano))
		}
		if _, err := tx.ExecContext(ctx, `UPDATE facts SET valid_to = ?, updated_at = ? WHERE id = ?`,
			millis(at), millis(at), open.ID); err != nil {
			return fmt.Errorf("close fact: %w", err)
		}
		open.ValidTo = at
		closed = open
		return nil
	})
	return closed, err
}

// UpdateFact changes a fact's confidence and/or metadata. Nil arguments
// leave the field unchanged. Reports false if the fact does not exist.
func (db *DB) UpdateFact(ctx context.Context, id string, confidence *float64, metadata map[string]any, at time.Time) (bool, error) {
	var meta sql.NullString
	if metadata != nil {
		s, err := encodeMeta(metadata)
		if err != nil {
			return false, err
		}
		meta = sql.NullString{String: s, Valid: true}
	}
	var conf sql.NullFloat64
	if confidence != nil {
		conf = sql.NullFloat64{Float64: *confidence, Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		UPDATE facts SET confidence = COALESCE(?, confidence), metadata = COALESCE(?, metadata), updated_at = ?,
		    decayed_at = CASE WHEN ? IS NULL THEN decayed_at ELSE NULL END
		WHERE id = ?
	`, conf, meta, millis(at), conf, id)
	if err != nil {
		return false, fmt.Errorf("update fact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteFact removes a fact row. Reports whether it existed.
func (db *DB) DeleteFact(ctx context.Context, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FactDecayTarget is an open fact eligible for confidence decay.
type FactDecayTarget struct {
	ID         string
	Confidence float64
	Anchor     time.Time // last decay, or last confidence write
}

// FactDecayTargets returns open facts in namespace that started at or
// before startedBefore.
func (db *DB) FactDecayTargets(ctx context.Context, namespace string, startedBefore time.Time) ([]FactDecayTarget, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, confidence, COALESCE(decayed_at, updated_at)
		FROM facts
		WHERE namespace = ? AND valid_to IS NULL AND valid_from <= ? AND confidence > 0
	`, namespace, millis(startedBefore))
	if err != nil {
		return nil, fmt.Errorf("query fact decay targets: %w", err)
	}
	defer rows.Close()
	var out []FactDecayTarget
	for rows.Next() {
		var t FactDecayTarget
		var anchor int64
		if err := rows.Scan(&t.ID, &t.Confidence, &anchor); err != nil {
			return nil, fmt.Errorf("scan fact decay target: %w", err)
		}
		t.Anchor = fromMillis(anchor)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ApplyFactDecay writes a decayed confidence if the fact is still open and
// its anchor still reads prev.
func (db *DB) ApplyFactDecay(ctx context.Context, id string, prev time.Time, confidence float64, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE facts SET confidence = ?, decayed_at = ?
		WHERE id = ? AND valid_to IS NULL AND COALESCE(decayed_at, updated_at) = ? AND confidence >= ?
	`, confidence, millis(at), id, millis(prev), confidence)
	if err != nil {
		return false, fmt.Errorf("apply fact decay: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Volatility counts how often a (subject, predicate) pair changed.
type Volatility struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Changes   int    `json:"changes"`
	Intervals int    `json:"intervals"`
}

// MostVolatile ranks pairs by closed-interval count, descending.
func (db *DB) MostVolatile(ctx context.Context, namespace string, limit int) ([]Volatility, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT subject, predicate, SUM(CASE WHEN valid_to IS NULL THEN 0 ELSE 1 END) AS changes, COUNT(*)
		FROM facts WHERE namespace = ?
		GROUP BY subject, predicate
		ORDER BY changes DESC, subject, predicate
		LIMIT ?
	`, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("most volatile: %w", err)
	}
	defer rows.Close()
	var out []Volatility
	for rows.Next() {
		var v Volatility
		if err := rows.Scan(&v.Subject, &v.Predicate, &v.Changes, &v.Intervals); err != nil {
			return nil, fmt.Errorf("scan volatility: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
