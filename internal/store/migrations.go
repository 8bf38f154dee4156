package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "namespaces: isolation boundary registry",
		SQL: `
CREATE TABLE namespaces (
    name          TEXT PRIMARY KEY,
    description   TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    last_decay_at INTEGER
);
`,
	},
	{
		Version:     2,
		Description: "memories: canonical memory records",
		SQL: `
CREATE TABLE memories (
    id               TEXT PRIMARY KEY,
    namespace        TEXT NOT NULL REFERENCES namespaces(name),
    content          TEXT NOT NULL,
    primary_sector   TEXT NOT NULL CHECK (primary_sector IN ('episodic', 'semantic', 'procedural', 'emotional', 'reflective')),
    sectors          TEXT NOT NULL,

    -- Decay
    salience         REAL NOT NULL CHECK (salience >= 0 AND salience <= 1),
    decayed_at       INTEGER NOT NULL,
    reinforced_at    INTEGER,
    last_accessed_at INTEGER,

    tags             TEXT NOT NULL DEFAULT '[]',
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    deleted_at       INTEGER
);

CREATE INDEX idx_memories_namespace ON memories(namespace, deleted_at);
CREATE INDEX idx_memories_salience  ON memories(namespace, salience DESC);
`,
	},
	{
		Version:     3,
		Description: "memory_embeddings: one vector per memory per sector",
		SQL: `
CREATE TABLE memory_embeddings (
    memory_id  TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    sector     TEXT NOT NULL,
    embedding  BLOB NOT NULL,
    dimensions INTEGER NOT NULL,
    model      TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (memory_id, sector)
);
`,
	},
	{
		Version:     4,
		Description: "waypoints: at most one outgoing associative edge per memory",
		SQL: `
CREATE TABLE waypoints (
    namespace  TEXT NOT NULL,
    src_id     TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    dst_id     TEXT NOT NULL,
    weight     REAL NOT NULL CHECK (weight >= 0 AND weight <= 1),
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (namespace, src_id),
    CHECK (src_id <> dst_id)
);

CREATE INDEX idx_waypoints_dst ON waypoints(namespace, dst_id);
`,
	},
	{
		Version:     5,
		Description: "facts: temporal subject-predicate-object intervals",
		SQL: `
CREATE TABLE facts (
    id         TEXT PRIMARY KEY,
    namespace  TEXT NOT NULL REFERENCES namespaces(name),
    subject    TEXT NOT NULL,
    predicate  TEXT NOT NULL,
    object     TEXT NOT NULL,
    valid_from INTEGER NOT NULL,
    valid_to   INTEGER,
    confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    decayed_at INTEGER,
    CHECK (valid_to IS NULL OR valid_to > valid_from)
);

CREATE INDEX idx_facts_triple ON facts(namespace, subject, predicate, valid_from);
CREATE UNIQUE INDEX idx_facts_open ON facts(namespace, subject, predicate) WHERE valid_to IS NULL;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
