package solarmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thisdougb/solarmon/internal/broker"
	"github.com/thisdougb/solarmon/internal/config"
	"github.com/thisdougb/solarmon/internal/core"
	"github.com/thisdougb/solarmon/internal/handlers"
	"github.com/thisdougb/solarmon/internal/metrics"
	"github.com/thisdougb/solarmon/internal/publish"
	"github.com/thisdougb/solarmon/internal/storage"
	"github.com/thisdougb/solarmon/internal/telemetry"
	"github.com/thisdougb/solarmon/internal/vedirect"
)

// Monitor is the public interface of the dashboard backend.
type Monitor struct {
	cycle    *core.Cycle
	store    *storage.Manager
	registry *prometheus.Registry
	closers  []io.Closer
}

type settings struct {
	brokerURL   string
	useBroker   bool
	topics      *config.Topics
	topicsFile  string
	store       *storage.Manager
	serial      []*core.SerialDevice
	openPorts   bool
	publisher   core.Publisher
	natsURL     string
	now         func() time.Time
	closers     []io.Closer
	noSysMetric bool
}

// Option changes how NewMonitor wires the monitor.
type Option func(*settings)

// WithBroker polls the ioBroker simple-api at url. An empty url runs
// without a broker, e.g. as a serial to NATS bridge.
func WithBroker(url string) Option {
	return func(s *settings) {
		s.brokerURL = url
		s.useBroker = url != ""
	}
}

// WithTopics replaces the topic map from SOLARMON_CONFIG_FILE.
func WithTopics(t *config.Topics) Option {
	return func(s *settings) { s.topics = t }
}

// WithStorage replaces the storage configured from the environment.
func WithStorage(m *storage.Manager) Option {
	return func(s *settings) { s.store = m }
}

// WithSerial reads VE.Direct blocks for device from an open port. It
// disables opening SOLARMON_BMV_PORT and SOLARMON_MPPT_PORT. Close
// stops reading but leaves the port open.
func WithSerial(device string, port io.Reader) Option {
	return func(s *settings) {
		dev := core.NewSerialDevice(device, port)
		s.serial = append(s.serial, dev)
		s.closers = append(s.closers, dev)
		s.openPorts = false
	}
}

// WithPublisher forwards serial records to p instead of SOLARMON_NATS_URL.
func WithPublisher(p core.Publisher) Option {
	return func(s *settings) {
		s.publisher = p
		s.natsURL = ""
	}
}

// WithClock sets the time source of refresh cycles.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// withoutSystemMetrics keeps the registry free of process collectors.
func withoutSystemMetrics() Option {
	return func(s *settings) { s.noSysMetric = true }
}

// NewMonitor wires a monitor from SOLARMON_ environment variables, then
// applies opts. It restores the last stored snapshot but does not
// refresh; call Refresh for that.
func NewMonitor(ctx context.Context, opts ...Option) (*Monitor, error) {
	s := &settings{
		brokerURL:  config.StringValue("SOLARMON_BROKER_URL"),
		topicsFile: config.StringValue("SOLARMON_CONFIG_FILE"),
		natsURL:    config.StringValue("SOLARMON_NATS_URL"),
		openPorts:  true,
	}
	s.useBroker = s.brokerURL != ""
	for _, opt := range opts {
		opt(s)
	}

	m, err := build(ctx, s)
	if err != nil {
		for i := len(s.closers) - 1; i >= 0; i-- {
			s.closers[i].Close()
		}
		return nil, err
	}
	return m, nil
}

func build(ctx context.Context, s *settings) (*Monitor, error) {
	var err error

	if s.topics == nil {
		if s.topics, err = config.LoadTopics(s.topicsFile); err != nil {
			return nil, err
		}
	}

	if s.store == nil {
		if s.store, err = storage.NewManagerFromConfig(); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.store)
	}

	if s.openPorts {
		for _, p := range []struct{ device, env string }{
			{core.DeviceBMV, "SOLARMON_BMV_PORT"},
			{core.DeviceMPPT, "SOLARMON_MPPT_PORT"},
		} {
			name := config.StringValue(p.env)
			if name == "" {
				continue
			}
			port, err := vedirect.OpenPort(vedirect.PortConfig{
				Name: name,
				Baud: config.IntValue("SOLARMON_SERIAL_BAUD"),
			})
			if err != nil {
				return nil, err
			}
			dev := core.NewSerialDevice(p.device, port)
			s.closers = append(s.closers, port, dev)
			s.serial = append(s.serial, dev)
			config.LogInfo(ctx, fmt.Sprintf("reading %s from %s", p.device, name))
		}
	}

	if s.publisher == nil && s.natsURL != "" {
		pub, err := publish.Connect(s.natsURL, config.StringValue("SOLARMON_NATS_PREFIX"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pub)
		s.publisher = pub
	}

	registry := prometheus.NewRegistry()
	if !s.noSysMetric {
		metrics.RegisterSystemCollectors(registry, time.Now())
	}

	o := core.Options{
		Topics:         s.topics,
		Serial:         s.serial,
		Store:          s.store,
		Metrics:        metrics.New(registry),
		Publisher:      s.publisher,
		RequestTimeout: config.DurationValue("SOLARMON_REQUEST_TIMEOUT"),
		HistoryOffset:  config.DurationValue("SOLARMON_HISTORY_OFFSET"),
		StaleAfter:     config.DurationValue("SOLARMON_STALE_AFTER"),
		BlocksPerCycle: config.IntValue("SOLARMON_VEDIRECT_BLOCKS"),
		Now:            s.now,
	}
	if s.useBroker {
		o.Broker = broker.NewClient(s.brokerURL, o.RequestTimeout)
	}

	cycle, err := core.NewCycle(ctx, o)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		cycle:    cycle,
		store:    s.store,
		registry: registry,
		closers:  s.closers,
	}, nil
}

// Refresh runs one refresh cycle. Failures of single values or
// histories are logged and reported by Status; the error is only set
// when ctx ends first.
func (m *Monitor) Refresh(ctx context.Context) error {
	return m.cycle.Refresh(ctx)
}

// DryRun marks ctx so a Refresh with it neither stores nor publishes.
func DryRun(ctx context.Context) context.Context {
	return config.EnableDryRun(ctx)
}

// Snapshot returns a copy of the latest values and histories.
func (m *Monitor) Snapshot() *telemetry.Snapshot {
	return m.cycle.Snapshot()
}

// Status describes the last refresh.
func (m *Monitor) Status() core.Status {
	return m.cycle.Status()
}

// StorageManager returns the persistence manager.
func (m *Monitor) StorageManager() *storage.Manager {
	return m.store
}

// Backup writes a dated database copy when backups are enabled.
func (m *Monitor) Backup() error {
	return m.store.CreateBackup()
}

// BackupInterval is how often Backup should run, zero when disabled.
func (m *Monitor) BackupInterval() time.Duration {
	return m.store.BackupInterval()
}

// Close releases ports, the NATS connection and storage, in reverse
// order of opening.
func (m *Monitor) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SnapshotHandler serves the current snapshot as JSON.
func (m *Monitor) SnapshotHandler() http.HandlerFunc {
	return handlers.SnapshotHandler(m)
}

// HistoryHandler serves a history bucket, named by the last path element.
func (m *Monitor) HistoryHandler() http.HandlerFunc {
	return handlers.HistoryHandler(m)
}

// StatusHandler returns 200 with the last refresh outcome, or 503
// before the first refresh.
func (m *Monitor) StatusHandler() http.HandlerFunc {
	return handlers.StatusHandler(m)
}

// ReadingsHandler serves stored readings averaged per window.
func (m *Monitor) ReadingsHandler() http.HandlerFunc {
	return handlers.ReadingsHandler(m)
}

// MetricsHandler serves the Prometheus registry.
func (m *Monitor) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
