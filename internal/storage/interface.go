package storage

import (
	"errors"
	"time"
)

// ErrNoSnapshot is returned by LoadSnapshot before the first save.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Backend defines the interface for all storage implementations
type Backend interface {
	LoadCounter() (uint16, error)
	SaveCounter(n uint16) error
	SaveSnapshot(rec SnapshotRecord) error
	LoadSnapshot() (*SnapshotRecord, error)
	WriteReadings(readings []Reading) error
	ReadReadings(topic string, start, end time.Time) ([]Reading, error)
	PruneReadings(before time.Time) (int64, error)
	Close() error
}

// SnapshotRecord is the last refresh result, kept so a restart can
// render before the first refresh completes.
type SnapshotRecord struct {
	Taken        time.Time `json:"taken"`
	RefreshCount uint16    `json:"refresh_count"`
	Payload      []byte    `json:"payload"` // json encoded snapshot
}

// Reading is one polled value, stored under the topic it was read from.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Value     float64   `json:"value"`
}
