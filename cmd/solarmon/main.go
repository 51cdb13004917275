package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thisdougb/solarmon"
	"github.com/thisdougb/solarmon/internal/config"
	"github.com/thisdougb/solarmon/internal/core"
)

func main() {
	once := flag.Bool("once", false, "Run one refresh and print the snapshot")
	serve := flag.Bool("serve", false, "Serve the dashboard API and refresh periodically")
	bridge := flag.Bool("bridge", false, "Forward VE.Direct serial blocks to NATS without polling the broker")
	dryRun := flag.Bool("dry-run", false, "Do not store or publish anything")
	addr := flag.String("addr", config.StringValue("SOLARMON_HTTP_ADDR"), "HTTP listen address for -serve")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		ctx = solarmon.DryRun(ctx)
	}

	var err error
	switch {
	case *once:
		err = runOnce(ctx)
	case *serve:
		err = runServe(ctx, *addr)
	case *bridge:
		err = runBridge(ctx)
	default:
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("solarmon: %v", err)
	}
}

func runOnce(ctx context.Context) error {
	m, err := solarmon.NewMonitor(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Refresh(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.Snapshot()); err != nil {
		return err
	}

	for _, e := range m.Status().Errors {
		fmt.Fprintln(os.Stderr, e)
	}
	return nil
}

func runServe(ctx context.Context, addr string) error {
	m, err := solarmon.NewMonitor(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", m.SnapshotHandler())
	mux.HandleFunc("/history/", m.HistoryHandler())
	mux.HandleFunc("/status", m.StatusHandler())
	mux.HandleFunc("/readings", m.ReadingsHandler())
	mux.Handle("/metrics", m.MetricsHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		config.LogInfo(ctx, fmt.Sprintf("listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	refresh := time.NewTicker(config.PositiveDurationValue("SOLARMON_REFRESH_INTERVAL"))
	defer refresh.Stop()

	var backups <-chan time.Time
	if interval := m.BackupInterval(); interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		backups = t.C
	}

	refreshNow(ctx, m)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		case <-refresh.C:
			refreshNow(ctx, m)
		case <-backups:
			if err := m.Backup(); err != nil {
				config.LogError(ctx, fmt.Sprintf("backup failed: %v", err))
			}
		}
	}
}

// refresher is the part of the monitor the refresh loops drive.
type refresher interface {
	Refresh(ctx context.Context) error
	Status() core.Status
}

func refreshNow(ctx context.Context, m refresher) {
	if err := m.Refresh(ctx); err != nil {
		config.LogError(ctx, fmt.Sprintf("refresh failed: %v", err))
	}
}

// Waits between bridge cycles that read no block.
const (
	bridgeMinWait = time.Second
	bridgeMaxWait = time.Minute
)

// runBridge reads serial blocks back to back. Each refresh blocks on
// the ports until the configured number of blocks has arrived.
func runBridge(ctx context.Context) error {
	if config.StringValue("SOLARMON_BMV_PORT") == "" && config.StringValue("SOLARMON_MPPT_PORT") == "" {
		return errors.New("bridge needs SOLARMON_BMV_PORT or SOLARMON_MPPT_PORT")
	}

	m, err := solarmon.NewMonitor(ctx, solarmon.WithBroker(""))
	if err != nil {
		return err
	}
	defer m.Close()

	bridgeLoop(ctx, m, bridgeMinWait, bridgeMaxWait)
	return nil
}

// bridgeLoop refreshes until ctx ends. After a cycle that read no block,
// e.g. with the adapter unplugged, it waits before the next one, doubling
// the wait up to maxWait. A cycle with a block resets the wait.
func bridgeLoop(ctx context.Context, m refresher, minWait, maxWait time.Duration) {
	var wait time.Duration

	for ctx.Err() == nil {
		refreshNow(ctx, m)
		if m.Status().BlocksRead > 0 {
			wait = 0
			continue
		}

		wait = nextWait(wait, minWait, maxWait)
		config.LogInfo(ctx, fmt.Sprintf("no block read, next attempt in %s", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

func nextWait(prev, minWait, maxWait time.Duration) time.Duration {
	if prev < minWait {
		return minWait
	}
	if prev*2 > maxWait {
		return maxWait
	}
	return prev * 2
}
