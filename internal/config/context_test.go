//go:build dev

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestCorrelationIdContext(t *testing.T) {

	var TestCases = []struct {
		description string
		value       string
		key         CorrelationContextKey
	}{
		{
			description: "test set and get id",
			key:         "cid",
			value:       "abc-123456-123456",
		},
	}

	for _, tc := range TestCases {

		ctx := SetContextCorrelationId(context.Background(), tc.value)
		result := GetContextCorrelationId(ctx)

		if !strings.Contains(result, tc.value) {
			t.Error(tc.description)
		}
	}
}

func TestAppendToCid(t *testing.T) {

	ctx := SetContextCorrelationId(context.Background(), "testId")
	if !strings.Contains(GetContextCorrelationId(ctx), "testId") {
		t.Error("initial cid")
	}

	ctx = AppendToContextCorrelationId(ctx, "someText")
	if !strings.Contains(GetContextCorrelationId(ctx), "testId-someText") {
		t.Error("appended cid")
	}
}

func TestDryRun(t *testing.T) {

	ctx := context.Background()
	if IsDryRun(ctx) {
		t.Error("dry run should be off by default")
	}
	if !IsDryRun(EnableDryRun(ctx)) {
		t.Error("dry run should be on")
	}
}

func TestLogCollection(t *testing.T) {

	ctx := EnableLogCollection(SetContextCorrelationId(context.Background(), "refresh"))
	LogInfo(ctx, "first")
	LogError(ctx, "second")

	dump, err := DumpLogsAsJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dump, "first") || !strings.Contains(dump, "\"severity\":\"ERROR\"") {
		t.Errorf("unexpected log dump %s", dump)
	}
}

func TestLogCollectionCap(t *testing.T) {

	var out bytes.Buffer
	saved := logOutput
	logOutput = &out
	defer func() { logOutput = saved }()

	ctx := EnableLogCollection(SetContextCorrelationId(context.Background(), "cap"))
	for i := 0; i < maxCollectedLogs+10; i++ {
		LogInfo(ctx, fmt.Sprintf("line %d", i))
	}

	dump, err := DumpLogsAsJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var logs []CollectedLog
	if err := json.Unmarshal([]byte(dump), &logs); err != nil {
		t.Fatal(err)
	}
	if len(logs) != maxCollectedLogs+1 || logs[len(logs)-1].Message != "further log lines dropped" {
		t.Errorf("got %d lines, last %+v", len(logs), logs[len(logs)-1])
	}
	if strings.Count(out.String(), "\n") != maxCollectedLogs+10 {
		t.Error("every line must still be printed")
	}
}

func TestLogLineFormat(t *testing.T) {

	var out bytes.Buffer
	saved := logOutput
	logOutput = &out
	defer func() { logOutput = saved }()

	ctx := SetContextCorrelationId(context.Background(), "refresh")
	LogError(ctx, "broker bmv: timeout")

	line := out.String()
	if !strings.Contains(line, "(solarmon) ERROR +0.") || !strings.Contains(line, "-refresh] broker bmv: timeout") {
		t.Errorf("unexpected log line %q", line)
	}

	if dump, _ := DumpLogsAsJSON(ctx); dump != "[]" {
		t.Errorf("collection is off, got %s", dump)
	}
}
