package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thisdougb/solarmon/internal/config"
	"github.com/thisdougb/solarmon/internal/history"
	"github.com/thisdougb/solarmon/internal/metrics"
	"github.com/thisdougb/solarmon/internal/storage"
	"github.com/thisdougb/solarmon/internal/telemetry"
	"github.com/thisdougb/solarmon/internal/vedirect"
)

// Device names used for serial ports, metrics labels and publish subjects.
const (
	DeviceBMV  = "bmv"
	DeviceMPPT = "mppt"
	DeviceGrid = "grid"
)

// Broker is the subset of the ioBroker client a refresh needs.
type Broker interface {
	PlainValue(ctx context.Context, topic string) (string, error)
	LastChange(ctx context.Context, topic string) (time.Time, error)
	History(ctx context.Context, topic string, from, to time.Time) (io.ReadCloser, error)
}

// Publisher forwards validated records, e.g. to NATS.
type Publisher interface {
	PublishRecords(device string, records []vedirect.Record) (int, error)
}

// SerialDevice is a VE.Direct line already opened by the caller.
type SerialDevice struct {
	Name   string
	Line   *vedirect.Line
	Reader *vedirect.Reader
}

// NewSerialDevice wraps an open port.
func NewSerialDevice(name string, port io.Reader) *SerialDevice {
	return &SerialDevice{
		Name:   name,
		Line:   vedirect.NewLine(port),
		Reader: vedirect.NewReader(),
	}
}

// Close stops reading the port. The port itself stays open.
func (d *SerialDevice) Close() error {
	return d.Line.Close()
}

// Options wires a Cycle. Broker, Serial and Publisher may be empty. A nil
// Store means no persistence. Metrics is required.
type Options struct {
	Topics         *config.Topics
	Broker         Broker
	Serial         []*SerialDevice
	Store          *storage.Manager
	Metrics        *metrics.Metrics
	Publisher      Publisher
	RequestTimeout time.Duration
	HistoryOffset  time.Duration
	StaleAfter     time.Duration
	BlocksPerCycle int
	Now            func() time.Time
}

// Status describes the last refresh.
type Status struct {
	RefreshCount uint16        `json:"refresh_count"`
	LastRefresh  time.Time     `json:"last_refresh"`
	Duration     time.Duration `json:"duration_ns"`
	BlocksRead   int           `json:"blocks_read"`
	Errors       []string      `json:"errors"`
	Stale        []string      `json:"stale"`
	Logs         string        `json:"-"`
}

// Cycle owns the snapshot and refreshes it. Refreshes are serialised;
// readers get copies and never wait for network I/O.
type Cycle struct {
	opts Options

	refreshMu sync.Mutex

	mu       sync.RWMutex
	snapshot *telemetry.Snapshot
	status   Status
}

// NewCycle validates opts and restores the last stored snapshot, if any.
func NewCycle(ctx context.Context, opts Options) (*Cycle, error) {
	if opts.Topics == nil {
		opts.Topics = config.DefaultTopics()
	}
	if err := opts.Topics.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topics: %w", err)
	}
	if opts.Store == nil {
		opts.Store = storage.NewManager(nil, false)
	}
	if opts.Metrics == nil {
		return nil, errors.New("metrics are required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	if opts.BlocksPerCycle <= 0 {
		opts.BlocksPerCycle = 1
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	c := &Cycle{
		opts:     opts,
		snapshot: telemetry.NewSnapshot(),
	}

	rec, err := opts.Store.LoadSnapshot()
	switch {
	case err == nil:
		if err := json.Unmarshal(rec.Payload, c.snapshot); err != nil {
			config.LogError(ctx, fmt.Sprintf("core.NewCycle(): stored snapshot unreadable: %v", err))
		} else {
			config.LogInfo(ctx, fmt.Sprintf("core.NewCycle(): restored snapshot %d from %s", rec.RefreshCount, rec.Taken.Format(time.RFC3339)))
		}
	case !errors.Is(err, storage.ErrNoSnapshot):
		config.LogError(ctx, fmt.Sprintf("core.NewCycle(): load snapshot: %v", err))
	}

	return c, nil
}

// Snapshot returns a copy of the current snapshot.
func (c *Cycle) Snapshot() *telemetry.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Clone()
}

// Status returns the outcome of the last refresh.
func (c *Cycle) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.status
	s.Errors = append([]string(nil), c.status.Errors...)
	s.Stale = append([]string(nil), c.status.Stale...)
	return s
}

// refresh holds the working state of one Refresh call.
type refresh struct {
	ctx      context.Context
	now      time.Time
	work     *telemetry.Snapshot
	readings []storage.Reading
	blocks   int
	errs     []string
	fromLine map[string]bool
}

func (r *refresh) fail(msg string) {
	config.LogError(r.ctx, msg)
	r.errs = append(r.errs, msg)
}

// Refresh runs one cycle: serial blocks, broker values, histories. A
// failing step leaves the affected values as they were. The error is
// only non-nil when ctx ends before the cycle completes.
func (c *Cycle) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx = config.SetContextCorrelationId(ctx, "refresh")
	ctx = config.EnableLogCollection(ctx)
	started := time.Now()

	r := &refresh{
		ctx:      ctx,
		now:      c.opts.Now(),
		work:     c.Snapshot(),
		fromLine: make(map[string]bool),
	}

	count, err := c.opts.Store.NextRefreshCount()
	if err != nil {
		r.fail(fmt.Sprintf("refresh counter: %v", err))
	}
	r.work.RefreshCount = count
	config.LogInfo(ctx, fmt.Sprintf("refresh %d started", count))

	for _, dev := range c.opts.Serial {
		c.readSerial(r, dev)
	}

	if c.opts.Broker != nil {
		c.pollDevices(r)
		c.loadHistories(r)
	}

	if err := ctx.Err(); err != nil {
		config.LogError(ctx, fmt.Sprintf("refresh %d abandoned: %v", count, err))
		return err
	}

	r.work.Updated = r.now
	stale := c.markStale(r)
	c.persist(r)

	took := time.Since(started)
	c.opts.Metrics.RefreshDone(count, took)

	logs, _ := config.DumpLogsAsJSON(ctx)

	c.mu.Lock()
	c.snapshot = r.work
	c.status = Status{
		RefreshCount: count,
		LastRefresh:  r.now,
		Duration:     took,
		BlocksRead:   r.blocks,
		Errors:       r.errs,
		Stale:        stale,
		Logs:         logs,
	}
	c.mu.Unlock()

	config.LogInfo(ctx, fmt.Sprintf("refresh %d done in %s with %d errors", count, took.Round(time.Millisecond), len(r.errs)))
	return nil
}

// device returns the snapshot part and broker topics of a device name.
func (c *Cycle) device(work *telemetry.Snapshot, name string) (telemetry.Device, config.DeviceTopics, *time.Time) {
	switch name {
	case DeviceBMV:
		return &work.BMV, c.opts.Topics.BMV, &work.BMV.LastChange
	case DeviceMPPT:
		return &work.MPPT, c.opts.Topics.MPPT, &work.MPPT.LastChange
	case DeviceGrid:
		return &work.Grid, c.opts.Topics.Grid, &work.Grid.LastChange
	}
	return nil, config.DeviceTopics{}, nil
}

// readSerial collects up to BlocksPerCycle valid blocks from one line.
func (c *Cycle) readSerial(r *refresh, dev *SerialDevice) {
	target, topics, lastChange := c.device(r.work, dev.Name)
	if target == nil {
		r.fail(fmt.Sprintf("serial %s: unknown device", dev.Name))
		return
	}

	for i := 0; i < c.opts.BlocksPerCycle; i++ {
		records, err := vedirect.Collect(r.ctx, dev.Line, dev.Reader)
		switch {
		case errors.Is(err, vedirect.ErrChecksum):
			c.opts.Metrics.BlockRead(dev.Name, false)
			config.LogInfo(r.ctx, fmt.Sprintf("serial %s: block discarded, checksum mismatch", dev.Name))
			continue
		case err != nil:
			r.fail(fmt.Sprintf("serial %s: %v", dev.Name, err))
			return
		}

		c.opts.Metrics.BlockRead(dev.Name, true)
		r.blocks++
		c.apply(r, dev.Name, target, records)
		*lastChange = r.now
		r.fromLine[dev.Name] = true
		c.recordReadings(r, topics, records)

		if c.opts.Publisher != nil && !config.IsDryRun(r.ctx) {
			sent, err := c.opts.Publisher.PublishRecords(dev.Name, records)
			c.opts.Metrics.Published(sent)
			if err != nil {
				r.fail(fmt.Sprintf("publish %s: %v", dev.Name, err))
			}
		}
	}
}

// pollDevices reads plain values and last change times from the broker.
// A device read from its serial line this cycle is not polled.
func (c *Cycle) pollDevices(r *refresh) {
	for _, name := range []string{DeviceBMV, DeviceMPPT, DeviceGrid} {
		if r.fromLine[name] {
			continue
		}
		target, topics, lastChange := c.device(r.work, name)

		var records []vedirect.Record
		for _, keyword := range topics.Keywords {
			if r.ctx.Err() != nil {
				return
			}
			value, err := c.plainValue(r.ctx, topics.Topic(keyword))
			if err != nil {
				c.opts.Metrics.BrokerError("plain")
				r.fail(fmt.Sprintf("broker %s: %v", name, err))
				continue
			}
			records = append(records, vedirect.Record{Keyword: keyword, Value: value})
		}
		c.apply(r, name, target, records)
		c.recordReadings(r, topics, records)

		if topics.LastChange == "" {
			continue
		}
		ts, err := c.lastChange(r.ctx, topics.LastChange)
		if err != nil {
			c.opts.Metrics.BrokerError("last_change")
			r.fail(fmt.Sprintf("broker %s last change: %v", name, err))
			continue
		}
		*lastChange = ts
	}
}

func (c *Cycle) plainValue(ctx context.Context, topic string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	return c.opts.Broker.PlainValue(ctx, topic)
}

func (c *Cycle) lastChange(ctx context.Context, topic string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	return c.opts.Broker.LastChange(ctx, topic)
}

func (c *Cycle) apply(r *refresh, name string, target telemetry.Device, records []vedirect.Record) {
	if len(records) == 0 {
		return
	}
	n, err := target.Apply(records)
	c.opts.Metrics.RecordsApplied(name, n)
	if err != nil {
		r.fail(fmt.Sprintf("%s values skipped: %v", name, err))
	}
}

// recordReadings keeps numeric values for the local history fallback.
func (c *Cycle) recordReadings(r *refresh, topics config.DeviceTopics, records []vedirect.Record) {
	for _, rec := range records {
		v, err := strconv.ParseFloat(strings.Trim(rec.Value, "\""), 64)
		if err != nil {
			continue
		}
		r.readings = append(r.readings, storage.Reading{
			Timestamp: r.now,
			Topic:     topics.Topic(rec.Keyword),
			Value:     v,
		})
	}
}

// loadHistories rebuilds every configured history bucket.
func (c *Cycle) loadHistories(r *refresh) {
	buckets := r.work.Buckets()

	for _, def := range c.opts.Topics.Histories {
		if r.ctx.Err() != nil {
			return
		}

		bucket, ok := buckets[def.Bucket]
		if !ok {
			r.fail(fmt.Sprintf("history %s: no such bucket", def.Bucket))
			continue
		}
		policy, err := history.ParsePolicy(def.Policy)
		if err != nil {
			r.fail(fmt.Sprintf("history %s: %v", def.Bucket, err))
			continue
		}

		// the window runs a little into the future so the newest
		// samples are never cut off by clock skew
		to := r.now.Add(c.opts.HistoryOffset)
		from := to.AddDate(0, 0, -def.Days)

		samples, err := c.fetchSamples(r, def.Topic, from, to)
		if err != nil {
			r.fail(fmt.Sprintf("history %s: %v", def.Bucket, err))
			continue
		}

		res := history.Aggregate(bucket, policy, from, to, samples, def.Scale)
		if def.AxisMax > 0 {
			bucket.SetAxisMax(def.AxisMax)
		}
		c.opts.Metrics.HistorySamples(def.Bucket, res.Folded, res.Discarded)

		config.LogDebug(r.ctx, fmt.Sprintf("history %s: %d samples folded, %d outside window", def.Bucket, res.Folded, res.Discarded))
	}
}

// fetchSamples queries the broker and falls back to locally recorded
// readings when the query fails.
func (c *Cycle) fetchSamples(r *refresh, topic string, from, to time.Time) ([]history.RawSample, error) {
	samples, err := c.querySamples(r.ctx, topic, from, to)
	if err == nil {
		return samples, nil
	}
	c.opts.Metrics.BrokerError("history")

	if !c.opts.Store.IsEnabled() {
		return nil, err
	}

	readings, rerr := c.opts.Store.ReadReadings(topic, from, to)
	if rerr != nil || len(readings) == 0 {
		return nil, err
	}

	config.LogInfo(r.ctx, fmt.Sprintf("history %s: broker failed (%v), using %d local readings", topic, err, len(readings)))
	samples = make([]history.RawSample, len(readings))
	for i, rd := range readings {
		samples[i] = history.RawSample{Value: rd.Value, Timestamp: rd.Timestamp.Unix()}
	}
	return samples, nil
}

func (c *Cycle) querySamples(ctx context.Context, topic string, from, to time.Time) ([]history.RawSample, error) {
	// a history body is large, allow longer than a plain value
	ctx, cancel := context.WithTimeout(ctx, 5*c.opts.RequestTimeout)
	defer cancel()

	body, err := c.opts.Broker.History(ctx, topic, from, to)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return history.ReadSamples(body)
}

func (c *Cycle) markStale(r *refresh) []string {
	var stale []string
	for _, name := range []string{DeviceBMV, DeviceMPPT, DeviceGrid} {
		_, _, lastChange := c.device(r.work, name)
		isStale := telemetry.Stale(*lastChange, r.now, c.opts.StaleAfter)
		c.opts.Metrics.SetStale(name, isStale)
		if isStale {
			stale = append(stale, name)
		}
	}
	return stale
}

// persist stores readings and the snapshot unless this is a dry run.
func (c *Cycle) persist(r *refresh) {
	if config.IsDryRun(r.ctx) || !c.opts.Store.IsEnabled() {
		return
	}

	if err := c.opts.Store.RecordReadings(r.readings); err != nil {
		r.fail(fmt.Sprintf("store readings: %v", err))
	}

	// keep a day more than the longest history
	maxDays := 1
	for _, def := range c.opts.Topics.Histories {
		if def.Days > maxDays {
			maxDays = def.Days
		}
	}
	if _, err := c.opts.Store.PruneReadings(r.now.AddDate(0, 0, -(maxDays + 1))); err != nil {
		r.fail(fmt.Sprintf("prune readings: %v", err))
	}

	payload, err := json.Marshal(r.work)
	if err != nil {
		r.fail(fmt.Sprintf("encode snapshot: %v", err))
		return
	}
	if err := c.opts.Store.SaveSnapshot(r.now, r.work.RefreshCount, payload); err != nil {
		r.fail(fmt.Sprintf("store snapshot: %v", err))
	}
}
