package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestReadingQueue_FlushesOnBatchSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	t0 := time.Unix(1717200000, 0)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO readings")
	prep.ExpectExec().WithArgs(t0.Unix(), "a", 1.0).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs(t0.Unix(), "b", 2.0).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	q := NewReadingQueue(db, 0, 2)

	if err := q.Enqueue([]Reading{{Timestamp: t0, Topic: "a", Value: 1}}); err != nil {
		t.Fatal(err)
	}
	if q.QueueSize() != 1 {
		t.Fatalf("expected 1 queued, got %d", q.QueueSize())
	}
	if err := q.Enqueue([]Reading{{Timestamp: t0, Topic: "b", Value: 2}}); err != nil {
		t.Fatal(err)
	}
	if q.QueueSize() != 0 {
		t.Errorf("batch should have been flushed, %d queued", q.QueueSize())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReadingQueue_FailedInsertKeepsQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO readings").ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	q := NewReadingQueue(db, 0, 10)
	q.Enqueue([]Reading{{Timestamp: time.Unix(1, 0), Topic: "a", Value: 1}})

	if err := q.ForceFlush(); err == nil {
		t.Fatal("expected flush error")
	}
	if q.QueueSize() != 1 {
		t.Errorf("failed flush must keep readings queued, got %d", q.QueueSize())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteBackend_ErrorPaths(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}

	backend := newSQLiteBackendWithDB(db, SQLiteConfig{BatchSize: 10})

	mock.ExpectQuery("SELECT value FROM counters").WillReturnError(errors.New("locked"))
	if _, err := backend.LoadCounter(); err == nil {
		t.Error("expected LoadCounter error")
	}

	mock.ExpectExec("INSERT INTO counters").WillReturnError(errors.New("readonly"))
	if err := backend.SaveCounter(3); err == nil {
		t.Error("expected SaveCounter error")
	}

	mock.ExpectQuery("SELECT taken, refresh_count, payload FROM snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"taken", "refresh_count", "payload"}).AddRow(int64(1717200000), int64(12), []byte("{}")))
	rec, err := backend.LoadSnapshot()
	if err != nil || rec.RefreshCount != 12 {
		t.Errorf("LoadSnapshot() = %+v, %v", rec, err)
	}

	mock.ExpectQuery("SELECT timestamp, value FROM readings").WillReturnError(errors.New("corrupt"))
	if _, err := backend.ReadReadings("x", time.Unix(0, 0), time.Unix(10, 0)); err == nil {
		t.Error("expected ReadReadings error")
	}

	mock.ExpectClose()
	if err := backend.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReadingQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewReadingQueue(nil, 0, 2*maxQueuedReadings)

	readings := make([]Reading, maxQueuedReadings+5)
	for i := range readings {
		readings[i] = Reading{Timestamp: time.Unix(int64(i), 0), Topic: "a", Value: float64(i)}
	}
	if err := q.Enqueue(readings); err != nil {
		t.Fatal(err)
	}

	if q.QueueSize() != maxQueuedReadings || q.Dropped() != 5 {
		t.Errorf("queued %d dropped %d", q.QueueSize(), q.Dropped())
	}
	if q.queue[0].Value != 5 {
		t.Errorf("oldest readings should go first, head is %v", q.queue[0].Value)
	}
}
