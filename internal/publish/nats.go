// Package publish forwards validated VE.Direct records to a NATS
// subject per keyword.
package publish

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/thisdougb/solarmon/internal/vedirect"
)

// Conn is the part of a NATS connection the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher sends each record to <prefix>.<device>.<keyword>.
type Publisher struct {
	conn   Conn
	prefix string
}

// Connect dials NATS and returns a publisher. Reconnects are unlimited
// so a broker restart does not end the bridge.
func Connect(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("solarmon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return New(nc, prefix), nil
}

// New wraps an existing connection.
func New(conn Conn, prefix string) *Publisher {
	return &Publisher{
		conn:   conn,
		prefix: strings.Trim(prefix, "."),
	}
}

// Subject returns the subject a record of device is published on.
func (p *Publisher) Subject(device, keyword string) string {
	tokens := []string{token(device), token(keyword)}
	if p.prefix != "" {
		tokens = append([]string{p.prefix}, tokens...)
	}
	return strings.Join(tokens, ".")
}

// PublishRecords publishes every record of one block and returns how
// many were sent. A failing record does not stop the rest.
func (p *Publisher) PublishRecords(device string, records []vedirect.Record) (int, error) {
	var errs []error
	sent := 0

	for _, rec := range records {
		if rec.Keyword == "" {
			continue
		}
		if err := p.conn.Publish(p.Subject(device, rec.Keyword), []byte(rec.Value)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rec.Keyword, err))
			continue
		}
		sent++
	}

	return sent, errors.Join(errs...)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	err := p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
	return err
}

// token makes s usable as one subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
