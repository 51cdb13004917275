package config

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"
)

type (
	CorrelationContextKey   string
	DebugContextKey         string
	StartedContextKey       string
	DryRunContextKey        string
	CollectedLogsContextKey string
)

// CollectedLog is one log line kept on the context for the status page.
type CollectedLog struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CID       string    `json:"correlation_id"`
	ElapsedMs float64   `json:"elapsed_ms"`
}

// a refresh with every topic failing logs a few hundred lines at most
const maxCollectedLogs = 500

type logCollector struct {
	mu      sync.Mutex
	logs    []CollectedLog
	dropped int
}

func (c *logCollector) add(l CollectedLog) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.logs) >= maxCollectedLogs {
		c.dropped++
		return
	}
	c.logs = append(c.logs, l)
}

const idChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// SetContextCorrelationId tags ctx with a fresh id ending in value. The
// first call also records when the work started, for log elapsed times.
func SetContextCorrelationId(ctx context.Context, value string) context.Context {
	id := make([]byte, 6)
	for i := range id {
		id[i] = idChars[rand.Intn(len(idChars))]
	}

	ctx = context.WithValue(ctx, CorrelationContextKey("cid"), string(id)+"-"+value)

	if GetContextStarted(ctx).IsZero() {
		ctx = context.WithValue(ctx, StartedContextKey("started"), time.Now())
	}

	return context.WithValue(ctx, DebugContextKey("debug"), BoolValue("SOLARMON_DEBUG"))
}

// GetContextStarted returns when the correlated work started, zero if unset.
func GetContextStarted(ctx context.Context) time.Time {
	if v, ok := ctx.Value(StartedContextKey("started")).(time.Time); ok {
		return v
	}
	return time.Time{}
}

func AppendToContextCorrelationId(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, CorrelationContextKey("cid"), GetContextCorrelationId(ctx)+"-"+value)
}

func GetContextCorrelationId(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationContextKey("cid")).(string); ok {
		return v
	}
	return "no-id"
}

// GetContextDebug is the debug flag captured with the correlation id,
// falling back to SOLARMON_DEBUG.
func GetContextDebug(ctx context.Context) bool {
	if v, ok := ctx.Value(DebugContextKey("debug")).(bool); ok {
		return v
	}
	return BoolValue("SOLARMON_DEBUG")
}

// EnableDryRun marks a refresh that reads and aggregates but neither
// persists nor publishes.
func EnableDryRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, DryRunContextKey("dry_run"), true)
}

func IsDryRun(ctx context.Context) bool {
	v, _ := ctx.Value(DryRunContextKey("dry_run")).(bool)
	return v
}

// EnableLogCollection keeps a copy of every log line written with ctx.
func EnableLogCollection(ctx context.Context) context.Context {
	return context.WithValue(ctx, CollectedLogsContextKey("logs"), &logCollector{})
}

func IsLogCollectionEnabled(ctx context.Context) bool {
	return collector(ctx) != nil
}

func collector(ctx context.Context) *logCollector {
	c, _ := ctx.Value(CollectedLogsContextKey("logs")).(*logCollector)
	return c
}

// DumpLogsAsJSON returns the collected lines as a JSON array, "[]" when
// collection is off.
func DumpLogsAsJSON(ctx context.Context) (string, error) {
	c := collector(ctx)
	if c == nil {
		return "[]", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logs := c.logs
	if c.dropped > 0 {
		logs = append(logs[:len(logs):len(logs)], CollectedLog{
			Timestamp: time.Now().UTC(),
			Severity:  "INFO",
			Message:   "further log lines dropped",
			CID:       GetContextCorrelationId(ctx),
		})
	}
	if logs == nil {
		logs = []CollectedLog{}
	}

	data, err := json.Marshal(logs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
