/*
Package solarmon is the backend of a solar power e-paper dashboard.

It collects battery monitor (BMV), MPPT charger and grid smart plug
telemetry, either straight from VE.Direct serial lines or from an
ioBroker simple-api, and folds each configured state history into a
fixed number of time buckets sized to the pixel width of a graph.

A refresh cycle:
  - increments the persistent refresh counter
  - reads checksummed VE.Direct blocks from any configured serial port
    and forwards validated records to NATS
  - polls plain values and last change times from the broker for
    devices not read over serial
  - queries every history and aggregates it into its bucket, falling
    back to locally stored readings when the broker query fails
  - stores the snapshot

Each step keeps the previous values on failure, so the dashboard always
has something to draw.

Example:

	m, err := solarmon.NewMonitor(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	if err := m.Refresh(ctx); err != nil {
		log.Fatal(err)
	}

	http.HandleFunc("/snapshot", m.SnapshotHandler())
	http.HandleFunc("/history/", m.HistoryHandler())
	http.HandleFunc("/status", m.StatusHandler())
	http.Handle("/metrics", m.MetricsHandler())

Configuration is read from environment variables:

	SOLARMON_BROKER_URL="http://iobroker:8087"
	SOLARMON_REQUEST_TIMEOUT="2s"
	SOLARMON_BMV_PORT="/dev/ttyUSB0"
	SOLARMON_MPPT_PORT="/dev/ttyUSB1"
	SOLARMON_REFRESH_INTERVAL="10m"
	SOLARMON_CONFIG_FILE="/etc/solarmon.yaml"

	SOLARMON_PERSISTENCE_ENABLED=true
	SOLARMON_DB_PATH="/data/solarmon.db"
	SOLARMON_BACKUP_ENABLED=true
	SOLARMON_BACKUP_DIR="/data/backups"

	SOLARMON_NATS_URL="nats://localhost:4222"
	SOLARMON_NATS_PREFIX="vedirect"

The broker is only polled when SOLARMON_BROKER_URL is set.

The yaml file named by SOLARMON_CONFIG_FILE overrides the broker topic
map and the history definitions; sections it leaves out keep their
defaults.
*/
package solarmon
