package history

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Policy decides how samples landing in the same slot are combined.
type Policy int

const (
	// Average sums the samples of a slot and divides by their count on Finalize.
	Average Policy = iota
	// Max keeps the largest sample of a slot.
	Max
)

func (p Policy) String() string {
	switch p {
	case Average:
		return "avg"
	case Max:
		return "max"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts "avg"/"average" and "max", case-insensitive.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "avg", "average":
		return Average, nil
	case "max", "maximum":
		return Max, nil
	}
	return Average, fmt.Errorf("unknown aggregation policy %q", s)
}

// RawSample is one reading from the history query, timestamp in epoch seconds.
type RawSample struct {
	Value     float64
	Timestamp int64
}

// Result summarises one aggregation run.
type Result struct {
	Folded    int
	Discarded int
}

// Aggregator folds raw samples into a Bucket over the window [from, to).
type Aggregator struct {
	bucket    *Bucket
	policy    Policy
	from      int64
	to        int64
	folded    int
	discarded int
	finalized bool
}

// NewAggregator clears b and stamps its slots for the window. The
// window must be non-empty.
func NewAggregator(b *Bucket, policy Policy, from, to time.Time) *Aggregator {
	b.Clear()
	b.AssignWindowTimestamps(from, to)

	return &Aggregator{
		bucket: b,
		policy: policy,
		from:   from.Unix(),
		to:     to.Unix(),
	}
}

// Index returns the slot a timestamp falls into. The result is outside
// [0, size) for timestamps outside the window.
func (a *Aggregator) Index(timestamp int64) int {
	size := float64(a.bucket.Len())
	span := float64(a.to - a.from)
	if span <= 0 {
		return -1
	}
	return int(math.Floor(size * float64(timestamp-a.from) / span))
}

// Add folds one sample. It returns false when the sample falls outside
// the window and was discarded.
func (a *Aggregator) Add(s RawSample) bool {
	b := a.bucket

	// axis scale follows every sample seen, in window or not
	if s.Value > b.maxObserved {
		b.maxObserved = s.Value
	}

	i := a.Index(s.Timestamp)
	if i < 0 || i >= len(b.slots) {
		a.discarded++
		return false
	}

	slot := &b.slots[i]
	switch a.policy {
	case Max:
		// slots start at zero, so a slot of only negative samples stays zero
		if s.Value > slot.Value {
			slot.Value = s.Value
		}
		slot.Count = 1
	default:
		slot.Value += s.Value
		slot.Count++
	}

	a.folded++
	return true
}

// Finalize turns the Average sums into means and applies scale to every
// populated slot. Slots without samples stay zero. It runs once.
func (a *Aggregator) Finalize(scale float64) {
	if a.finalized {
		return
	}
	a.finalized = true

	for i := range a.bucket.slots {
		slot := &a.bucket.slots[i]
		if slot.Count == 0 {
			continue
		}
		if a.policy == Average {
			slot.Value = scale * slot.Value / float64(slot.Count)
		} else {
			slot.Value = scale * slot.Value
		}
	}
}

// Folded returns the number of samples that landed in a slot.
func (a *Aggregator) Folded() int {
	return a.folded
}

// Discarded returns the number of out-of-window samples.
func (a *Aggregator) Discarded() int {
	return a.discarded
}

// Aggregate runs a full aggregation of samples into b. The outcome does
// not depend on the order of samples.
func Aggregate(b *Bucket, policy Policy, from, to time.Time, samples []RawSample, scale float64) Result {
	a := NewAggregator(b, policy, from, to)
	for _, s := range samples {
		a.Add(s)
	}
	a.Finalize(scale)

	return Result{Folded: a.folded, Discarded: a.discarded}
}
