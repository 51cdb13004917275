package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RegisterSystemCollectors adds Go runtime, process and uptime metrics
// to reg. It is used for the registry served on /metrics; tests use a
// bare registry.
func RegisterSystemCollectors(reg prometheus.Registerer, started time.Time) {
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "solarmon_uptime_seconds",
		Help: "Seconds since the monitor started.",
	}, func() float64 {
		return time.Since(started).Seconds()
	})

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		uptime,
	)
}
