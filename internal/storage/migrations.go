package storage

import (
	"database/sql"
	"fmt"
)

// migration is one schema step. Versions are applied in order and
// recorded in schema_migrations; a version is never edited once shipped.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "refresh counter and last snapshot",
		up: `CREATE TABLE counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);

		CREATE TABLE snapshots (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			taken INTEGER NOT NULL,
			refresh_count INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
	},
	{
		version: 2,
		name:    "polled readings",
		up: `CREATE TABLE readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			topic TEXT NOT NULL,
			value REAL NOT NULL
		);

		CREATE INDEX idx_readings_topic_time ON readings(topic, timestamp);`,
	},
}

// migrate brings db to the latest schema and returns the versions it
// applied.
func migrate(db *sql.DB) ([]int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	)`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	var applied []int
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(db); err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		applied = append(applied, m.version)
	}
	return applied, nil
}

func (m migration) apply(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.up); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// schemaVersion returns the highest applied migration, 0 for a new file.
func schemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	return version, err
}
