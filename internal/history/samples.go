package history

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// maxPairLen bounds the bytes kept between '[' and ']'. Real pairs are
// well under this; anything longer is JSON structure, not a sample.
const maxPairLen = 64

var nullToken = []byte("null")

// SampleScanner reads "[<value>,<epoch-ms>]" pairs from a history query
// response in a single pass. Brackets that do not hold a numeric pair,
// such as the outer array of the response, are skipped.
//
//	s := history.NewSampleScanner(body)
//	for s.Scan() {
//		agg.Add(s.Sample())
//	}
//	if err := s.Err(); err != nil { ... }
type SampleScanner struct {
	r       *bufio.Reader
	buf     []byte
	inPair  bool
	sample  RawSample
	nulls   int
	skipped int
	err     error
}

// NewSampleScanner returns a scanner reading from r.
func NewSampleScanner(r io.Reader) *SampleScanner {
	return &SampleScanner{
		r:   bufio.NewReader(r),
		buf: make([]byte, 0, maxPairLen),
	}
}

// Scan advances to the next sample. It returns false at the end of the
// input or on a read error.
func (s *SampleScanner) Scan() bool {
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}

		switch c {
		case '[':
			s.inPair = true
			s.buf = s.buf[:0]
		case ']':
			if !s.inPair {
				continue
			}
			s.inPair = false
			if s.parsePair() {
				return true
			}
		default:
			if !s.inPair {
				continue
			}
			if len(s.buf) >= maxPairLen {
				s.inPair = false
				s.skipped++
				continue
			}
			s.buf = append(s.buf, c)
		}
	}
}

// Sample returns the sample found by the last successful Scan.
func (s *SampleScanner) Sample() RawSample {
	return s.sample
}

// Nulls returns the number of pairs dropped because an element was null.
func (s *SampleScanner) Nulls() int {
	return s.nulls
}

// Skipped returns the number of bracketed sections that were not samples.
func (s *SampleScanner) Skipped() int {
	return s.skipped
}

// Err returns the first non-EOF read error.
func (s *SampleScanner) Err() error {
	return s.err
}

func (s *SampleScanner) parsePair() bool {
	sep := bytes.IndexByte(s.buf, ',')
	if sep < 0 {
		if len(bytes.TrimSpace(s.buf)) > 0 {
			s.skipped++
		}
		return false
	}

	value := bytes.TrimSpace(s.buf[:sep])
	stamp := bytes.TrimSpace(s.buf[sep+1:])

	if bytes.Equal(value, nullToken) || bytes.Equal(stamp, nullToken) {
		s.nulls++
		return false
	}

	v, err := strconv.ParseFloat(string(value), 64)
	if err != nil {
		s.skipped++
		return false
	}
	ms, err := strconv.ParseInt(string(stamp), 10, 64)
	if err != nil {
		s.skipped++
		return false
	}

	s.sample = RawSample{Value: v, Timestamp: ms / 1000}
	return true
}

// ReadSamples collects every sample from r.
func ReadSamples(r io.Reader) ([]RawSample, error) {
	var samples []RawSample

	s := NewSampleScanner(r)
	for s.Scan() {
		samples = append(samples, s.Sample())
	}

	return samples, s.Err()
}
