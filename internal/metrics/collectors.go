package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// checksum failure ratio covers this many recent blocks per device
const checksumWindow = 50

// Metrics holds the collectors of one monitor.
type Metrics struct {
	blocks           *prometheus.CounterVec
	checksumFailures *prometheus.CounterVec
	checksumRatio    *prometheus.GaugeVec
	recordsApplied   *prometheus.CounterVec
	samples          *prometheus.CounterVec
	brokerErrors     *prometheus.CounterVec
	published        prometheus.Counter
	refreshes        prometheus.Counter
	refreshDuration  prometheus.Histogram
	refreshCount     prometheus.Gauge
	stale            *prometheus.GaugeVec

	mu      sync.Mutex
	rolling map[string]*RollingMetric
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarmon_vedirect_blocks_total",
			Help: "VE.Direct blocks received, valid or not.",
		}, []string{"device"}),
		checksumFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarmon_vedirect_checksum_failures_total",
			Help: "VE.Direct blocks discarded for a bad checksum.",
		}, []string{"device"}),
		checksumRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solarmon_vedirect_checksum_failure_ratio",
			Help: "Share of the recent VE.Direct blocks that failed the checksum.",
		}, []string{"device"}),
		recordsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarmon_records_applied_total",
			Help: "Values written into the snapshot.",
		}, []string{"device"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarmon_history_samples_total",
			Help: "History samples folded into a bucket or discarded as out of window.",
		}, []string{"bucket", "result"}),
		brokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarmon_broker_errors_total",
			Help: "Failed broker requests.",
		}, []string{"op"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solarmon_published_records_total",
			Help: "VE.Direct records published to the message bus.",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solarmon_refresh_total",
			Help: "Completed refresh cycles.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solarmon_refresh_duration_seconds",
			Help:    "Wall time of one refresh cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		refreshCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solarmon_refresh_counter",
			Help: "Persistent refresh counter.",
		}),
		stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solarmon_device_stale",
			Help: "1 when a device has not reported within the stale limit.",
		}, []string{"device"}),
		rolling: make(map[string]*RollingMetric),
	}

	reg.MustRegister(
		m.blocks,
		m.checksumFailures,
		m.checksumRatio,
		m.recordsApplied,
		m.samples,
		m.brokerErrors,
		m.published,
		m.refreshes,
		m.refreshDuration,
		m.refreshCount,
		m.stale,
	)
	return m
}

// BlockRead counts one completed VE.Direct block and updates the
// rolling failure ratio of the device.
func (m *Metrics) BlockRead(device string, valid bool) {
	m.blocks.WithLabelValues(device).Inc()

	failed := 0.0
	if !valid {
		failed = 1
		m.checksumFailures.WithLabelValues(device).Inc()
	}

	m.mu.Lock()
	rm, ok := m.rolling[device]
	if !ok {
		rm = NewRollingMetric(checksumWindow)
		m.rolling[device] = rm
	}
	m.mu.Unlock()

	m.checksumRatio.WithLabelValues(device).Set(rm.Add(failed))
}

func (m *Metrics) RecordsApplied(device string, n int) {
	m.recordsApplied.WithLabelValues(device).Add(float64(n))
}

func (m *Metrics) HistorySamples(bucket string, folded, discarded int) {
	m.samples.WithLabelValues(bucket, "folded").Add(float64(folded))
	m.samples.WithLabelValues(bucket, "discarded").Add(float64(discarded))
}

func (m *Metrics) BrokerError(op string) {
	m.brokerErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Published(n int) {
	m.published.Add(float64(n))
}

// RefreshDone records a finished cycle.
func (m *Metrics) RefreshDone(count uint16, took time.Duration) {
	m.refreshes.Inc()
	m.refreshDuration.Observe(took.Seconds())
	m.refreshCount.Set(float64(count))
}

func (m *Metrics) SetStale(device string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	m.stale.WithLabelValues(device).Set(v)
}
