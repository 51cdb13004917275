package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thisdougb/solarmon/internal/core"
	"github.com/thisdougb/solarmon/internal/storage"
	"github.com/thisdougb/solarmon/internal/telemetry"
)

// Source is what the handlers need from the monitor.
type Source interface {
	Snapshot() *telemetry.Snapshot
	Status() core.Status
	StorageManager() *storage.Manager
}

// ReadingsParams holds parsed query parameters
type ReadingsParams struct {
	Topic     string
	Window    time.Duration
	Lookback  *time.Duration
	Lookahead *time.Duration
	Date      *time.Time
	Time      *time.Time
}

// RequestParams echoes the original query parameters
type RequestParams struct {
	Topic     string `json:"topic"`
	Window    string `json:"window"`
	Lookback  string `json:"lookback,omitempty"`
	Lookahead string `json:"lookahead,omitempty"`
	Date      string `json:"date,omitempty"`
	Time      string `json:"time,omitempty"`
}

// ValueSummary is min, max and mean over a set of readings
type ValueSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// ReadingsResponse is stored readings averaged per window
type ReadingsResponse struct {
	Topic         string             `json:"topic"`
	StartTime     time.Time          `json:"start_time"`
	EndTime       time.Time          `json:"end_time"`
	ReferenceTime time.Time          `json:"reference_time"`
	RequestParams RequestParams      `json:"request_params"`
	Windows       map[string]float64 `json:"windows"`
	Summary       *ValueSummary      `json:"summary,omitempty"`
}

// StatusResponse is the body of the status endpoint
type StatusResponse struct {
	Status       string    `json:"status"`
	RefreshCount uint16    `json:"refresh_count"`
	LastRefresh  time.Time `json:"last_refresh"`
	DurationMs   int64     `json:"duration_ms"`
	Errors       []string  `json:"errors"`
	Stale        []string  `json:"stale"`
	Persistence  bool      `json:"persistence"`
}

// SnapshotHandler serves the current snapshot as JSON
func SnapshotHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	}
}

// HistoryHandler serves one history bucket. The bucket name is the last
// path element, e.g. /history/bmv.charge. Without a name it lists the
// available buckets.
func HistoryHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := path.Base(r.URL.Path)
		buckets := src.Snapshot().Buckets()

		if name == "/" || name == "." || name == "history" {
			names := make([]string, 0, len(buckets))
			for n := range buckets {
				names = append(names, n)
			}
			sort.Strings(names)
			writeJSON(w, http.StatusOK, names)
			return
		}

		b, ok := buckets[name]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown history %q", name), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

// StatusHandler reports the last refresh. It returns 503 until the
// first refresh has completed.
func StatusHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := src.Status()
		manager := src.StorageManager()

		resp := StatusResponse{
			Status:       "UP",
			RefreshCount: st.RefreshCount,
			LastRefresh:  st.LastRefresh,
			DurationMs:   st.Duration.Milliseconds(),
			Errors:       st.Errors,
			Stale:        st.Stale,
			Persistence:  manager != nil && manager.IsEnabled(),
		}

		code := http.StatusOK
		if st.LastRefresh.IsZero() {
			resp.Status = "STARTING"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// ReadingsHandler returns handler for sar-style queries of stored readings
// Supports: /readings?topic={topic}&window={duration}&lookback={duration}&date={date}&time={time}
//       or: /readings?topic={topic}&window={duration}&lookahead={duration}&date={date}&time={time}
func ReadingsHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parseReadingsParams(r)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid parameters: %v", err), http.StatusBadRequest)
			return
		}

		if params.Lookback != nil && params.Lookahead != nil {
			http.Error(w, "lookback and lookahead are mutually exclusive", http.StatusBadRequest)
			return
		}
		if params.Lookback == nil && params.Lookahead == nil {
			http.Error(w, "either lookback or lookahead must be specified", http.StatusBadRequest)
			return
		}

		manager := src.StorageManager()
		if manager == nil || !manager.IsEnabled() {
			http.Error(w, "readings queries require persistence to be enabled", http.StatusServiceUnavailable)
			return
		}

		referenceTime := calculateReferenceTime(params, time.Now())

		var startTime, endTime time.Time
		if params.Lookback != nil {
			startTime = referenceTime.Add(-*params.Lookback)
			endTime = referenceTime
		} else {
			startTime = referenceTime
			endTime = referenceTime.Add(*params.Lookahead)
		}

		readings, err := manager.ReadReadings(params.Topic, startTime, endTime)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read readings: %v", err), http.StatusInternalServerError)
			return
		}

		q := r.URL.Query()
		response := ReadingsResponse{
			Topic:         params.Topic,
			StartTime:     startTime,
			EndTime:       endTime,
			ReferenceTime: referenceTime,
			RequestParams: RequestParams{
				Topic:     params.Topic,
				Window:    q.Get("window"),
				Lookback:  q.Get("lookback"),
				Lookahead: q.Get("lookahead"),
				Date:      q.Get("date"),
				Time:      q.Get("time"),
			},
			Windows: averageByWindow(readings, params.Window),
			Summary: summarize(readings),
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// parseReadingsParams parses query parameters for readings requests
func parseReadingsParams(r *http.Request) (*ReadingsParams, error) {
	params := &ReadingsParams{}
	q := r.URL.Query()

	params.Topic = q.Get("topic")
	if params.Topic == "" {
		return nil, fmt.Errorf("topic parameter is required")
	}

	windowStr := q.Get("window")
	if windowStr == "" {
		return nil, fmt.Errorf("window parameter is required")
	}
	window, err := time.ParseDuration(windowStr)
	if err != nil {
		return nil, fmt.Errorf("invalid window duration: %v", err)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	params.Window = window

	if s := q.Get("lookback"); s != "" {
		lookback, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid lookback duration: %v", err)
		}
		params.Lookback = &lookback
	}

	if s := q.Get("lookahead"); s != "" {
		lookahead, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid lookahead duration: %v", err)
		}
		params.Lookahead = &lookahead
	}

	if s := q.Get("date"); s != "" {
		date, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("invalid date format, use YYYY-MM-DD: %v", err)
		}
		params.Date = &date
	}

	if s := q.Get("time"); s != "" {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid time format, use HH:MM:SS or HH:MM")
		}

		hour, err := strconv.Atoi(parts[0])
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("invalid hour: %s", parts[0])
		}
		minute, err := strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid minute: %s", parts[1])
		}
		second := 0
		if len(parts) == 3 {
			second, err = strconv.Atoi(parts[2])
			if err != nil || second < 0 || second > 59 {
				return nil, fmt.Errorf("invalid second: %s", parts[2])
			}
		}

		// fixed date, combined with the date parameter later
		t := time.Date(2000, 1, 1, hour, minute, second, 0, time.UTC)
		params.Time = &t
	}

	return params, nil
}

// calculateReferenceTime combines date and time parameters, defaulting
// to now, in UTC
func calculateReferenceTime(params *ReadingsParams, now time.Time) time.Time {
	now = now.UTC()

	date := now
	if params.Date != nil {
		date = *params.Date
	}
	clock := now
	if params.Time != nil {
		clock = *params.Time
	}

	return time.Date(
		date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(),
		0, time.UTC,
	)
}

// averageByWindow groups readings into windows keyed by window start
// (RFC3339) and averages each window
func averageByWindow(readings []storage.Reading, window time.Duration) map[string]float64 {
	sums := make(map[int64]float64)
	counts := make(map[int64]int)

	for _, rd := range readings {
		start := rd.Timestamp.Truncate(window).Unix()
		sums[start] += rd.Value
		counts[start]++
	}

	out := make(map[string]float64, len(sums))
	for start, sum := range sums {
		out[time.Unix(start, 0).UTC().Format(time.RFC3339)] = sum / float64(counts[start])
	}
	return out
}

// summarize computes min, max and average, nil for no readings
func summarize(readings []storage.Reading) *ValueSummary {
	if len(readings) == 0 {
		return nil
	}

	s := &ValueSummary{
		Count: len(readings),
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
	}
	sum := 0.0
	for _, rd := range readings {
		sum += rd.Value
		s.Min = math.Min(s.Min, rd.Value)
		s.Max = math.Max(s.Max, rd.Value)
	}
	s.Avg = sum / float64(len(readings))
	return s
}
