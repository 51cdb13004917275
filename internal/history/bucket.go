package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// Slot is one time step of a Bucket. Count is zero when no sample was
// folded in, which is how "no data" is told apart from a zero reading.
type Slot struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

// Bucket is a fixed number of evenly spaced slots covering one time
// window for one quantity, e.g. the battery state of charge over the
// last three weeks. The size never changes after NewBucket.
type Bucket struct {
	name        string
	unit        string
	slots       []Slot
	maxObserved float64
	from        time.Time
	to          time.Time
}

// NewBucket allocates size zeroed slots. A size below one is a
// programming error.
func NewBucket(name string, size int, unit string) *Bucket {
	if size <= 0 {
		panic(fmt.Sprintf("history: bucket %q needs a positive size, got %d", name, size))
	}

	return &Bucket{
		name:  name,
		unit:  unit,
		slots: make([]Slot, size),
	}
}

// Clear zeroes every slot and the observed maximum without reallocating.
func (b *Bucket) Clear() {
	for i := range b.slots {
		b.slots[i] = Slot{}
	}
	b.maxObserved = 0
	b.from = time.Time{}
	b.to = time.Time{}
}

// AssignWindowTimestamps stamps slot i with from + i*(to-from)/size.
func (b *Bucket) AssignWindowTimestamps(from, to time.Time) {
	b.from = from
	b.to = to

	span := float64(to.Sub(from))
	size := float64(len(b.slots))
	for i := range b.slots {
		b.slots[i].Timestamp = from.Add(time.Duration(span * float64(i) / size))
	}
}

// Name returns the quantity name the bucket was created with.
func (b *Bucket) Name() string {
	return b.name
}

// Unit returns the unit label shown next to the graph axis.
func (b *Bucket) Unit() string {
	return b.unit
}

// Len returns the fixed number of slots.
func (b *Bucket) Len() int {
	return len(b.slots)
}

// Slot returns slot i.
func (b *Bucket) Slot(i int) Slot {
	return b.slots[i]
}

// Slots returns a copy of all slots in time order.
func (b *Bucket) Slots() []Slot {
	out := make([]Slot, len(b.slots))
	copy(out, b.slots)
	return out
}

// Window returns the bounds set by the last AssignWindowTimestamps.
func (b *Bucket) Window() (from, to time.Time) {
	return b.from, b.to
}

// MaxObserved is the largest raw sample value seen since the last
// Clear. It is used to scale the graph axis and can be larger than any
// averaged slot value.
func (b *Bucket) MaxObserved() float64 {
	return b.maxObserved
}

// SetAxisMax overrides the observed maximum with a fixed axis scale.
func (b *Bucket) SetAxisMax(v float64) {
	b.maxObserved = v
}

// Populated returns the number of slots holding at least one sample.
func (b *Bucket) Populated() int {
	n := 0
	for _, s := range b.slots {
		if s.Count > 0 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (b *Bucket) Clone() *Bucket {
	c := *b
	c.slots = append([]Slot(nil), b.slots...)
	return &c
}

type bucketJSON struct {
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	MaxObserved float64   `json:"max_observed"`
	Slots       []Slot    `json:"slots"`
}

func (b *Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(bucketJSON{
		Name:        b.name,
		Unit:        b.unit,
		From:        b.from,
		To:          b.to,
		MaxObserved: b.maxObserved,
		Slots:       b.slots,
	})
}
