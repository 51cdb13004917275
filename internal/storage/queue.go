package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/thisdougb/solarmon/internal/config"
)

// maxQueuedReadings bounds the queue while the database keeps failing;
// the oldest readings go first.
const maxQueuedReadings = 10000

// ReadingQueue batches reading inserts so a bridge streaming VE.Direct
// blocks does not write once per record.
type ReadingQueue struct {
	db            *sql.DB
	flushInterval time.Duration
	batchSize     int
	queue         []Reading
	dropped       int
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewReadingQueue creates a new async write queue for SQLite
func NewReadingQueue(db *sql.DB, flushInterval time.Duration, batchSize int) *ReadingQueue {
	ctx, cancel := context.WithCancel(context.Background())

	if batchSize <= 0 {
		batchSize = 1
	}

	return &ReadingQueue{
		db:            db,
		flushInterval: flushInterval,
		batchSize:     batchSize,
		queue:         make([]Reading, 0, batchSize),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the background flush loop. A zero interval disables
// timed flushes; batches then go out on size or Stop only.
func (q *ReadingQueue) Start() {
	if q.flushInterval <= 0 {
		return
	}
	q.wg.Add(1)
	go q.processQueue()
}

// Stop shuts down the flush loop and writes whatever is queued.
func (q *ReadingQueue) Stop() error {
	q.cancel()
	q.wg.Wait()
	return q.ForceFlush()
}

// Enqueue adds readings to the write queue
func (q *ReadingQueue) Enqueue(readings []Reading) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = append(q.queue, readings...)
	if over := len(q.queue) - maxQueuedReadings; over > 0 {
		q.queue = append(q.queue[:0], q.queue[over:]...)
		q.dropped += over
	}

	if len(q.queue) >= q.batchSize {
		return q.flushQueueUnsafe()
	}
	return nil
}

func (q *ReadingQueue) processQueue() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if err := q.ForceFlush(); err != nil {
				config.LogError(q.ctx, fmt.Sprintf("storage: failed to flush %d readings: %v", q.QueueSize(), err))
			}
		}
	}
}

// flushQueueUnsafe writes all queued readings in one transaction (assumes lock held)
func (q *ReadingQueue) flushQueueUnsafe() error {
	if len(q.queue) == 0 {
		return nil
	}

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO readings (timestamp, topic, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range q.queue {
		if _, err := stmt.Exec(r.Timestamp.Unix(), r.Topic, r.Value); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}

	q.queue = q.queue[:0]
	return nil
}

// QueueSize returns the current number of queued items (for testing)
func (q *ReadingQueue) QueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Dropped returns how many readings were discarded because the queue
// was full.
func (q *ReadingQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// ForceFlush immediately flushes all queued items
func (q *ReadingQueue) ForceFlush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushQueueUnsafe()
}
