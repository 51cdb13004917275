package metrics

import "sync"

// RollingMetric keeps the last N values in a circular buffer and reports
// their average. Until the buffer is full only the values seen so far
// count.
type RollingMetric struct {
	mu     sync.Mutex
	data   []float64
	index  int
	filled int
}

// Add a value to an existing data array and return the rolling average
func (rm *RollingMetric) Add(value float64) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	dataLength := len(rm.data)

	// simple index wrap-around technique
	if rm.index >= dataLength {
		rm.index = 0
	}
	rm.data[rm.index] = value
	rm.index++

	if rm.filled < dataLength {
		rm.filled++
	}

	var total float64
	for i := 0; i < rm.filled; i++ {
		total += rm.data[i]
	}
	return total / float64(rm.filled)
}

// Len returns how many values the average currently covers.
func (rm *RollingMetric) Len() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.filled
}

// NewRollingMetric creates a new rolling metric with the specified size
func NewRollingMetric(size int) *RollingMetric {
	if size <= 0 {
		size = 1
	}
	return &RollingMetric{
		data: make([]float64, size),
	}
}
