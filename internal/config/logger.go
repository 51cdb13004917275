package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// logOutput is where log lines go; tests swap it.
var logOutput io.Writer = os.Stdout

func LogInfo(ctx context.Context, msg string) {
	writeToLog(ctx, "INFO", msg)
}

func LogError(ctx context.Context, msg string) {
	writeToLog(ctx, "ERROR", msg)
}

func LogDebug(ctx context.Context, msg string) {
	if GetContextDebug(ctx) {
		writeToLog(ctx, "DEBUG", msg)
	}
}

// writeToLog prints
//
//	2024/06/01 12:00:00 (solarmon) INFO +0.4s [k3x9qa-refresh] msg
//
// and keeps a copy when the context collects logs.
func writeToLog(ctx context.Context, severity string, msg string) {
	now := time.Now()
	elapsed := sinceStarted(ctx, now)

	fmt.Fprintf(logOutput, "%s (solarmon) %s +%.1fs [%s] %s\n",
		now.UTC().Format("2006/01/02 15:04:05"),
		severity,
		elapsed.Seconds(),
		GetContextCorrelationId(ctx),
		msg)

	if c := collector(ctx); c != nil {
		c.add(CollectedLog{
			Timestamp: now.UTC(),
			Severity:  severity,
			Message:   msg,
			CID:       GetContextCorrelationId(ctx),
			ElapsedMs: float64(elapsed.Microseconds()) / 1000,
		})
	}
}

func sinceStarted(ctx context.Context, now time.Time) time.Duration {
	started := GetContextStarted(ctx)
	if started.IsZero() {
		return 0
	}
	return now.Sub(started)
}
