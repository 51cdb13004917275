package storage

import (
	"fmt"
	"sync"
	"time"
)

// Manager sits between the refresh cycle and a storage backend. With
// persistence disabled it keeps the refresh counter in memory and every
// other call is a no-op.
type Manager struct {
	backend Backend
	enabled bool
	backup  BackupConfig

	mu      sync.Mutex
	counter uint16
}

// NewManager creates a new persistence manager
func NewManager(backend Backend, enabled bool) *Manager {
	return &Manager{
		backend: backend,
		enabled: enabled && backend != nil,
	}
}

// NewManagerFromConfig creates a manager using environment variable configuration
func NewManagerFromConfig() (*Manager, error) {
	config := LoadConfig()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persistence config: %w", err)
	}

	if !config.Enabled {
		return NewManager(nil, false), nil
	}

	var backend Backend
	if config.DBPath != "" {
		sqlite, err := NewSQLiteBackend(SQLiteConfig{
			DBPath:        config.DBPath,
			FlushInterval: config.FlushInterval,
			BatchSize:     config.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		backend = sqlite
	} else {
		backend = NewMemoryBackend()
	}

	m := NewManager(backend, true)
	m.backup = config.Backup
	return m, nil
}

// NextRefreshCount loads the counter, increments it and stores it back.
// The counter wraps at 65535. On a storage error the in-memory value is
// still advanced and returned alongside the error.
func (m *Manager) NextRefreshCount() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		m.counter++
		return m.counter, nil
	}

	n, err := m.backend.LoadCounter()
	if err != nil {
		m.counter++
		return m.counter, err
	}

	n++
	m.counter = n
	if err := m.backend.SaveCounter(n); err != nil {
		return n, err
	}
	return n, nil
}

// SaveSnapshot persists the last refresh result if persistence is enabled
func (m *Manager) SaveSnapshot(taken time.Time, count uint16, payload []byte) error {
	if !m.enabled {
		return nil
	}
	return m.backend.SaveSnapshot(SnapshotRecord{
		Taken:        taken,
		RefreshCount: count,
		Payload:      payload,
	})
}

// LoadSnapshot returns the stored snapshot, ErrNoSnapshot when there is none
func (m *Manager) LoadSnapshot() (*SnapshotRecord, error) {
	if !m.enabled {
		return nil, ErrNoSnapshot
	}

	return m.backend.LoadSnapshot()
}

// RecordReadings stores polled values if persistence is enabled
func (m *Manager) RecordReadings(readings []Reading) error {
	if !m.enabled {
		return nil
	}
	return m.backend.WriteReadings(readings)
}

// ReadReadings retrieves stored readings of one topic
func (m *Manager) ReadReadings(topic string, start, end time.Time) ([]Reading, error) {
	if !m.enabled {
		return nil, fmt.Errorf("persistence not enabled")
	}
	return m.backend.ReadReadings(topic, start, end)
}

// PruneReadings drops readings older than before
func (m *Manager) PruneReadings(before time.Time) (int64, error) {
	if !m.enabled {
		return 0, nil
	}
	return m.backend.PruneReadings(before)
}

// CreateBackup writes a dated database copy when the backend supports it
func (m *Manager) CreateBackup() error {
	if !m.enabled || !m.backup.Enabled {
		return nil
	}

	sqlite, ok := m.backend.(*SQLiteBackend)
	if !ok {
		return nil
	}
	return sqlite.CreateBackup(&m.backup)
}

// BackupInterval returns how often CreateBackup should run, zero when
// backups are off.
func (m *Manager) BackupInterval() time.Duration {
	if !m.enabled || !m.backup.Enabled {
		return 0
	}
	return m.backup.BackupInterval
}

// Close flushes pending data and closes the backend
func (m *Manager) Close() error {
	if !m.enabled {
		return nil
	}
	return m.backend.Close()
}

// IsEnabled returns whether persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.enabled
}
