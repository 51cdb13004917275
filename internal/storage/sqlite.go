package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thisdougb/solarmon/internal/config"
)

const refreshCounterName = "refresh"

// SQLiteBackend implements Backend interface using SQLite database
type SQLiteBackend struct {
	db    *sql.DB
	queue *ReadingQueue
}

// SQLiteConfig holds configuration for SQLite backend
type SQLiteConfig struct {
	DBPath        string
	FlushInterval time.Duration
	BatchSize     int
}

// NewSQLiteBackend creates a new SQLite storage backend
func NewSQLiteBackend(cfg SQLiteConfig) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := migrate(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if len(applied) > 0 {
		config.LogInfo(context.Background(), fmt.Sprintf("storage: %s migrated to schema %v", cfg.DBPath, applied))
	}

	return newSQLiteBackendWithDB(db, cfg), nil
}

// newSQLiteBackendWithDB wraps an already migrated connection.
func newSQLiteBackendWithDB(db *sql.DB, cfg SQLiteConfig) *SQLiteBackend {
	queue := NewReadingQueue(db, cfg.FlushInterval, cfg.BatchSize)
	queue.Start()

	return &SQLiteBackend{
		db:    db,
		queue: queue,
	}
}

// LoadCounter returns the stored refresh counter, zero when never saved.
func (s *SQLiteBackend) LoadCounter() (uint16, error) {
	var value int64
	err := s.db.QueryRow(`SELECT value FROM counters WHERE name = ?`, refreshCounterName).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load counter: %w", err)
	}
	return uint16(value), nil
}

func (s *SQLiteBackend) SaveCounter(n uint16) error {
	_, err := s.db.Exec(`INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, refreshCounterName, int64(n))
	if err != nil {
		return fmt.Errorf("failed to save counter: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the single stored snapshot.
func (s *SQLiteBackend) SaveSnapshot(rec SnapshotRecord) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO snapshots (id, taken, refresh_count, payload)
		VALUES (1, ?, ?, ?)`, rec.Taken.Unix(), int64(rec.RefreshCount), rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) LoadSnapshot() (*SnapshotRecord, error) {
	var taken, count int64
	var payload []byte

	err := s.db.QueryRow(`SELECT taken, refresh_count, payload FROM snapshots WHERE id = 1`).
		Scan(&taken, &count, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return &SnapshotRecord{
		Taken:        time.Unix(taken, 0).UTC(),
		RefreshCount: uint16(count),
		Payload:      payload,
	}, nil
}

// WriteReadings queues readings for batched writing
func (s *SQLiteBackend) WriteReadings(readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}
	return s.queue.Enqueue(readings)
}

// ReadReadings returns the readings of a topic in [start, end), oldest
// first. Queued readings are flushed before the query.
func (s *SQLiteBackend) ReadReadings(topic string, start, end time.Time) ([]Reading, error) {
	if err := s.queue.ForceFlush(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT timestamp, value FROM readings
		WHERE topic = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`, topic, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, Reading{
			Timestamp: time.Unix(ts, 0).UTC(),
			Topic:     topic,
			Value:     value,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return readings, nil
}

// PruneReadings deletes readings older than before.
func (s *SQLiteBackend) PruneReadings(before time.Time) (int64, error) {
	if err := s.queue.ForceFlush(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`DELETE FROM readings WHERE timestamp < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune readings: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes queued readings and closes the database
func (s *SQLiteBackend) Close() error {
	var flushErr error
	if s.queue != nil {
		flushErr = s.queue.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
	}
	return flushErr
}

// CreateBackup creates a backup of the SQLite database using the existing connection
func (s *SQLiteBackend) CreateBackup(backup *BackupConfig) error {
	if s.db == nil {
		return fmt.Errorf("no database connection available")
	}
	return BackupDatabase(s.db, backup)
}
