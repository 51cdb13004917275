package vedirect

// MaxRecords is the number of keyword/value slots a block can hold,
// including the Checksum record. Longer blocks reuse the last slot.
const MaxRecords = 60

const (
	checksumKeyword = "Checksum"

	// every record is framed by "\r\n" before the keyword and "\t"
	// after it, none of which are kept in the record
	framingSum = '\t' + '\r' + '\n'
)

type fieldMode int

const (
	keyField fieldMode = iota
	valueField
)

// ByteSource is the transport side of the reader. A *Line or a
// *bufio.Reader wrapping a port satisfies it.
type ByteSource interface {
	Buffered() int
	ReadByte() (byte, error)
}

// Record is one keyword/value pair of a block.
type Record struct {
	Keyword string
	Value   string
}

type slot struct {
	keyword []byte
	value   []byte
}

// Reader decodes the VE.Direct text protocol one byte at a time. It
// never blocks: each call to ReadAvailableBytes consumes only what the
// source already has buffered, so a block can span many calls.
type Reader struct {
	records       [MaxRecords]slot
	index         int
	completed     bool
	field         fieldMode
	awaitingStart bool
}

// NewReader returns a reader waiting for the start of a block.
func NewReader() *Reader {
	r := &Reader{}
	r.Reset()
	return r
}

// Reset rewinds the record cursor and flags. Slot storage is kept and
// overwritten by the next block. Bytes are skipped until the next
// carriage return so the reader lines up with a block boundary again.
func (r *Reader) Reset() {
	r.index = 0
	r.completed = false
	r.field = keyField
	r.awaitingStart = true
	r.begin(0)
}

// ReadAvailableBytes drains the bytes src has buffered. It always
// returns true; callers check BlockCompleted and ChecksumValid.
func (r *Reader) ReadAvailableBytes(src ByteSource) bool {
	if r.completed {
		r.Reset()
	}

	for src.Buffered() > 0 {
		c, err := src.ReadByte()
		if err != nil {
			break
		}

		if r.awaitingStart {
			if c == '\r' {
				r.awaitingStart = false
			}
			continue
		}

		cur := &r.records[r.index]

		// the checksum byte can take any value, framing bytes included
		if r.field == valueField && string(cur.keyword) == checksumKeyword {
			cur.value = append(cur.value, c)
			r.completed = true
			return true
		}

		switch c {
		case '\t':
			r.field = valueField
		case '\r':
		case '\n':
			// a block starts with "\r\n", so an empty keyword is not a record
			if len(cur.keyword) > 0 && r.index < MaxRecords-1 {
				r.index++
			}
			r.begin(r.index)
		default:
			if r.field == keyField {
				cur.keyword = append(cur.keyword, c)
			} else {
				cur.value = append(cur.value, c)
			}
		}
	}

	return true
}

// BlockCompleted reports whether the Checksum record has been read.
func (r *Reader) BlockCompleted() bool {
	return r.completed
}

// ChecksumValid sums every keyword and value byte of the block plus the
// stripped framing bytes. A valid block sums to zero modulo 256.
func (r *Reader) ChecksumValid() bool {
	var sum byte

	for i := 0; i <= r.index; i++ {
		for _, c := range r.records[i].keyword {
			sum += c
		}
		for _, c := range r.records[i].value {
			sum += c
		}
	}
	sum += byte((r.index + 1) * framingSum)

	return sum == 0
}

// RecordCount returns the number of completed records, not counting
// the Checksum record.
func (r *Reader) RecordCount() int {
	return r.index
}

// Records copies out the completed records of the current block.
func (r *Reader) Records() []Record {
	out := make([]Record, r.index)
	for i := 0; i < r.index; i++ {
		out[i] = Record{
			Keyword: string(r.records[i].keyword),
			Value:   string(r.records[i].value),
		}
	}
	return out
}

// begin prepares slot i for a new record
func (r *Reader) begin(i int) {
	r.records[i].keyword = r.records[i].keyword[:0]
	r.records[i].value = r.records[i].value[:0]
	r.field = keyField
}
