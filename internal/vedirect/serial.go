package vedirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the VE.Direct text mode line speed (8N1).
const DefaultBaud = 19200

var (
	// ErrChecksum is returned for a complete block that failed validation.
	ErrChecksum = errors.New("vedirect: block checksum mismatch")

	// ErrStalled is returned when the line produced no bytes within the
	// port read timeout.
	ErrStalled = errors.New("vedirect: serial line stalled")
)

// PortConfig describes one VE.Direct serial port.
type PortConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// OpenPort opens a serial port for reading VE.Direct text frames.
func OpenPort(cfg PortConfig) (io.ReadCloser, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Name, err)
	}

	return port, nil
}

// Line delivers the bytes of a port to a Reader. The port is read by a
// background goroutine, so a caller waiting for bytes can give up when
// its context ends while the read itself stays pending. Close stops the
// goroutine; the port is not closed and belongs to the caller.
type Line struct {
	port   io.Reader
	chunks chan chunk
	done   chan struct{}
	start  sync.Once
	stop   sync.Once

	buf []byte
	err error
}

type chunk struct {
	data []byte
	err  error
}

// NewLine wraps an open port. Nothing is read before the first Collect.
func NewLine(port io.Reader) *Line {
	return &Line{
		port:   port,
		chunks: make(chan chunk),
		done:   make(chan struct{}),
	}
}

// Buffered is the number of received bytes not yet consumed.
func (l *Line) Buffered() int {
	return len(l.buf)
}

// ReadByte consumes one received byte without blocking.
func (l *Line) ReadByte() (byte, error) {
	if len(l.buf) == 0 {
		return 0, io.EOF
	}
	c := l.buf[0]
	l.buf = l.buf[1:]
	return c, nil
}

// Close stops the read goroutine once its pending read returns.
func (l *Line) Close() error {
	l.stop.Do(func() { close(l.done) })
	return nil
}

// fill waits until bytes are buffered, the port fails or ctx ends. An
// io.EOF is a read timeout of the port and is returned without being
// remembered; any other port error ends the line.
func (l *Line) fill(ctx context.Context) error {
	if len(l.buf) > 0 {
		return nil
	}
	if l.err != nil {
		return l.err
	}
	l.start.Do(func() { go l.pump() })

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return io.ErrClosedPipe
	case c := <-l.chunks:
		if c.err != nil {
			if !errors.Is(c.err, io.EOF) {
				l.err = c.err
			}
			return c.err
		}
		l.buf = c.data
		return nil
	}
}

func (l *Line) pump() {
	for {
		b := make([]byte, 512)
		n, err := l.port.Read(b)

		if n > 0 && !l.send(chunk{data: b[:n]}) {
			return
		}
		if n == 0 && err == nil {
			err = io.EOF
		}
		if err != nil {
			if !l.send(chunk{err: err}) || !errors.Is(err, io.EOF) {
				return
			}
		}
	}
}

func (l *Line) send(c chunk) bool {
	select {
	case l.chunks <- c:
		return true
	case <-l.done:
		return false
	}
}

// Collect feeds line to r until one block completes. A partial block is
// abandoned when ctx is done, even with a read still pending, or when
// the line stalls; an invalid block is discarded and ErrChecksum
// returned. The reader is left ready for the next block in every case.
func Collect(ctx context.Context, line *Line, r *Reader) ([]Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			r.Reset()
			return nil, err
		}

		if err := line.fill(ctx); err != nil {
			r.Reset()
			switch {
			case errors.Is(err, io.EOF):
				return nil, ErrStalled
			case ctx.Err() != nil:
				return nil, err
			}
			return nil, fmt.Errorf("failed to read serial line: %w", err)
		}

		r.ReadAvailableBytes(line)

		if r.BlockCompleted() {
			if !r.ChecksumValid() {
				r.Reset()
				return nil, ErrChecksum
			}
			return r.Records(), nil
		}
	}
}
