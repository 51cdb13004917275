//go:build dev

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solarmon.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTopicsDefaults(t *testing.T) {

	topics, err := LoadTopics("")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics.Histories) != 5 {
		t.Fatalf("expected 5 default histories, got %d", len(topics.Histories))
	}
	if topics.BMV.Topic("SOC") != "mqtt.0.bmv.SOC" {
		t.Errorf("unexpected topic %s", topics.BMV.Topic("SOC"))
	}

	yield := topics.Histories[2]
	if yield.Bucket != "mppt.yield" || yield.Scale != 0.01 || yield.AxisMax != 3.0 || yield.Policy != "max" {
		t.Errorf("unexpected yield history %+v", yield)
	}
}

func TestLoadTopicsOverrides(t *testing.T) {

	path := writeConfig(t, `
bmv:
  prefix: mqtt.1.battery
  keywords: [SOC, V]
  last_change: mqtt.1.battery.V
histories:
  - bucket: bmv.charge
    topic: mqtt.1.battery.SOC
    days: 14
`)

	topics, err := LoadTopics(path)
	if err != nil {
		t.Fatal(err)
	}
	if topics.BMV.Prefix != "mqtt.1.battery" || len(topics.BMV.Keywords) != 2 {
		t.Errorf("bmv section not applied: %+v", topics.BMV)
	}
	// sections missing from the file keep defaults
	if topics.MPPT.Prefix != "mqtt.0.mppt" {
		t.Errorf("mppt default lost: %+v", topics.MPPT)
	}
	if len(topics.Histories) != 1 || topics.Histories[0].Scale != 1 {
		t.Errorf("histories not replaced or scale not defaulted: %+v", topics.Histories)
	}
}

func TestLoadTopicsPolicySpelling(t *testing.T) {

	path := writeConfig(t, "histories:\n  - {bucket: x, topic: y, days: 1, policy: \" MAX\"}\n")

	topics, err := LoadTopics(path)
	if err != nil {
		t.Fatalf("policy with spaces and upper case rejected: %v", err)
	}
	if topics.Histories[0].Policy != " MAX" {
		t.Errorf("policy rewritten to %q", topics.Histories[0].Policy)
	}
}

func TestLoadTopicsErrors(t *testing.T) {

	var TestCases = []struct {
		description string
		body        string
		contains    string
	}{
		{
			description: "bad yaml",
			body:        "bmv: [",
			contains:    "parse config",
		},
		{
			description: "missing topic",
			body:        "histories:\n  - bucket: x\n    days: 1\n",
			contains:    "bucket and topic are required",
		},
		{
			description: "zero days",
			body:        "histories:\n  - bucket: x\n    topic: y\n",
			contains:    "days must be positive",
		},
		{
			description: "unknown policy",
			body:        "histories:\n  - bucket: x\n    topic: y\n    days: 1\n    policy: median\n",
			contains:    "unknown aggregation policy",
		},
		{
			description: "duplicate bucket",
			body:        "histories:\n  - {bucket: x, topic: y, days: 1}\n  - {bucket: x, topic: z, days: 1}\n",
			contains:    "defined twice",
		},
	}

	for _, tc := range TestCases {
		_, err := LoadTopics(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.contains) {
			t.Errorf("%s: got %v, want error containing %q", tc.description, err, tc.contains)
		}
	}

	if _, err := LoadTopics(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
