package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend in process memory. Nothing survives
// a restart; it backs tests and runs without a database path.
type MemoryBackend struct {
	mu       sync.RWMutex
	counter  uint16
	snapshot *SnapshotRecord
	readings []Reading
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		readings: make([]Reading, 0),
	}
}

func (m *MemoryBackend) LoadCounter() (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counter, nil
}

func (m *MemoryBackend) SaveCounter(n uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = n
	return nil
}

func (m *MemoryBackend) SaveSnapshot(rec SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Payload = append([]byte(nil), rec.Payload...)
	m.snapshot = &rec
	return nil
}

func (m *MemoryBackend) LoadSnapshot() (*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	rec := *m.snapshot
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec, nil
}

func (m *MemoryBackend) WriteReadings(readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, readings...)
	return nil
}

// ReadReadings returns the readings of a topic in [start, end), oldest first.
func (m *MemoryBackend) ReadReadings(topic string, start, end time.Time) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Reading
	for _, r := range m.readings {
		if r.Topic != topic || r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		result = append(result, r)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// PruneReadings drops readings older than before.
func (m *MemoryBackend) PruneReadings(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.readings[:0]
	for _, r := range m.readings {
		if r.Timestamp.Before(before) {
			continue
		}
		kept = append(kept, r)
	}
	removed := int64(len(m.readings) - len(kept))
	m.readings = kept
	return removed, nil
}

// Close performs cleanup for memory backend
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = nil
	return nil
}

// Len returns the number of stored readings (for testing)
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings)
}
