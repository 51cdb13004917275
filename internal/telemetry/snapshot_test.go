package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/thisdougb/solarmon/internal/vedirect"
)

func TestNewSnapshotBuckets(t *testing.T) {

	s := NewSnapshot()
	buckets := s.Buckets()

	var TestCases = []struct {
		name string
		size int
		unit string
	}{
		{"bmv.charge", ChargeHistorySize, "%"},
		{"mppt.ppv", PPVHistorySize, "W"},
		{"mppt.yield", PPVHistorySize, "kWh"},
		{"grid.power", GridHistorySize, "W"},
		{"grid.yield", GridHistorySize, "kWh"},
	}

	if len(buckets) != len(TestCases) {
		t.Fatalf("got %d buckets, want %d", len(buckets), len(TestCases))
	}
	for _, tc := range TestCases {
		b, ok := buckets[tc.name]
		if !ok {
			t.Errorf("missing bucket %s", tc.name)
			continue
		}
		if b.Len() != tc.size || b.Unit() != tc.unit {
			t.Errorf("%s: size %d unit %q", tc.name, b.Len(), b.Unit())
		}
	}
}

func TestBMVApply(t *testing.T) {

	var bmv BMV
	bmv.StateOfCharge = 500 // previous cycle

	applied, err := bmv.Apply([]vedirect.Record{
		{Keyword: "V", Value: "26201"},
		{Keyword: "I", Value: "-1250"},
		{Keyword: "TTG", Value: "---"},
		{Keyword: "Relay", Value: "OFF"},
		{Keyword: "SOC", Value: "n/a"},
		{Keyword: "PID", Value: "0x203"},
	})

	if applied != 4 {
		t.Errorf("applied = %d, want 4", applied)
	}
	if err == nil || !strings.Contains(err.Error(), "SOC") {
		t.Errorf("expected parse error for SOC, got %v", err)
	}
	if bmv.MainVoltage != 26201 || bmv.BatteryCurrent != -1250 || bmv.TimeToGo != -1 || bmv.Relay != "OFF" {
		t.Errorf("unexpected fields %+v", bmv)
	}
	if bmv.StateOfCharge != 500 {
		t.Errorf("unparsable value must keep the previous reading, got %v", bmv.StateOfCharge)
	}
}

func TestMPPTApply(t *testing.T) {

	var mppt MPPT
	applied, err := mppt.Apply([]vedirect.Record{
		{Keyword: "PPV", Value: "123"},
		{Keyword: "VPV", Value: "38120"},
		{Keyword: "CS", Value: "3"},
		{Keyword: "H20", Value: "\"42\""},
	})

	if err != nil || applied != 4 {
		t.Fatalf("applied=%d err=%v", applied, err)
	}
	if mppt.PanelPower != 123 || mppt.YieldToday != 42 || StateName(mppt.StateOfOperation) != "Bulk" {
		t.Errorf("unexpected fields %+v", mppt)
	}
}

func TestGridApply(t *testing.T) {

	var g GridPlug
	if _, err := g.Apply([]vedirect.Record{{Keyword: "alive", Value: "\"true\""}, {Keyword: "ENERGY_Power", Value: "87.5"}}); err != nil {
		t.Fatal(err)
	}
	if g.Alive != "true" || g.Power != 87.5 {
		t.Errorf("unexpected fields %+v", g)
	}
}

func TestKeywords(t *testing.T) {

	var bmv BMV
	kw := bmv.Keywords()
	if len(kw) != 14 || kw[0] != "AR" {
		t.Errorf("unexpected keywords %v", kw)
	}
}

func TestStale(t *testing.T) {

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if !Stale(time.Time{}, now, time.Hour) {
		t.Error("zero time must be stale")
	}
	if Stale(now.Add(-30*time.Minute), now, time.Hour) {
		t.Error("30 minutes is not stale for a 1h limit")
	}
	if !Stale(now.Add(-2*time.Hour), now, time.Hour) {
		t.Error("2 hours is stale for a 1h limit")
	}
}

func TestSnapshotClone(t *testing.T) {

	s := NewSnapshot()
	s.BMV.StateOfCharge = 990
	s.BMV.ChargeHistory.SetAxisMax(100)

	c := s.Clone()
	s.BMV.StateOfCharge = 0
	s.BMV.ChargeHistory.SetAxisMax(1)

	if c.BMV.StateOfCharge != 990 || c.BMV.ChargeHistory.MaxObserved() != 100 {
		t.Errorf("clone shares state with the original")
	}
	if len(c.Buckets()) != 5 {
		t.Errorf("clone lost buckets")
	}
}

func TestSnapshotJSONStateName(t *testing.T) {

	s := NewSnapshot()
	s.MPPT.StateOfOperation = 5
	s.MPPT.PanelPower = 210

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"state_name":"Float"`) || !strings.Contains(string(b), `"state":5`) {
		t.Errorf("state name missing from %s", b)
	}

	restored := NewSnapshot()
	if err := json.Unmarshal(b, restored); err != nil {
		t.Fatal(err)
	}
	if restored.MPPT.StateOfOperation != 5 || restored.MPPT.PanelPower != 210 {
		t.Errorf("snapshot did not restore: %+v", restored.MPPT)
	}
}
