package storage

import (
	"errors"
	"testing"
	"time"
)

func TestNewMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	if backend == nil {
		t.Fatal("NewMemoryBackend returned nil")
	}
	if backend.Len() != 0 {
		t.Errorf("Expected empty backend, got %d readings", backend.Len())
	}
}

func TestMemoryBackend_CounterAndSnapshot(t *testing.T) {
	backend := NewMemoryBackend()

	if err := backend.SaveCounter(7); err != nil {
		t.Fatal(err)
	}
	if n, _ := backend.LoadCounter(); n != 7 {
		t.Errorf("counter = %d, want 7", n)
	}

	if _, err := backend.LoadSnapshot(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}

	payload := []byte("abc")
	backend.SaveSnapshot(SnapshotRecord{RefreshCount: 7, Payload: payload})
	payload[0] = 'x'

	rec, err := backend.LoadSnapshot()
	if err != nil || string(rec.Payload) != "abc" {
		t.Errorf("stored payload must be a copy, got %q, %v", rec.Payload, err)
	}
}

func TestMemoryBackend_Readings(t *testing.T) {
	backend := NewMemoryBackend()
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		topic    string
		start    time.Time
		end      time.Time
		expected int
	}{
		{"whole window", "soc", t0, t0.Add(time.Hour), 3},
		{"end is exclusive", "soc", t0, t0.Add(20 * time.Minute), 2},
		{"other topic", "ppv", t0, t0.Add(time.Hour), 1},
		{"unknown topic", "none", t0, t0.Add(time.Hour), 0},
	}

	backend.WriteReadings([]Reading{
		{Timestamp: t0.Add(20 * time.Minute), Topic: "soc", Value: 3},
		{Timestamp: t0, Topic: "soc", Value: 1},
		{Timestamp: t0.Add(10 * time.Minute), Topic: "soc", Value: 2},
		{Timestamp: t0, Topic: "ppv", Value: 9},
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := backend.ReadReadings(tt.topic, tt.start, tt.end)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.expected {
				t.Errorf("got %d readings, want %d", len(got), tt.expected)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Timestamp.Before(got[i-1].Timestamp) {
					t.Errorf("readings not sorted: %+v", got)
				}
			}
		})
	}

	removed, _ := backend.PruneReadings(t0.Add(time.Minute))
	if removed != 2 || backend.Len() != 2 {
		t.Errorf("prune removed %d, %d left", removed, backend.Len())
	}
}
