package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thisdougb/solarmon/internal/history"
)

// DeviceTopics names the broker states of one device. Each keyword is
// read from Prefix + "." + keyword.
type DeviceTopics struct {
	Prefix     string   `yaml:"prefix"`
	Keywords   []string `yaml:"keywords"`
	LastChange string   `yaml:"last_change"`
}

// Topic returns the full state name for a keyword.
func (d DeviceTopics) Topic(keyword string) string {
	return d.Prefix + "." + keyword
}

// HistoryDef describes one history graph: which state is queried, how
// many days back, and how samples are combined.
type HistoryDef struct {
	Bucket  string  `yaml:"bucket"`
	Topic   string  `yaml:"topic"`
	Days    int     `yaml:"days"`
	Policy  string  `yaml:"policy"`
	Scale   float64 `yaml:"scale"`
	AxisMax float64 `yaml:"axis_max"`
}

// Topics is the broker side of the configuration.
type Topics struct {
	ConfigVersion int          `yaml:"config_version"`
	BMV           DeviceTopics `yaml:"bmv"`
	MPPT          DeviceTopics `yaml:"mppt"`
	Grid          DeviceTopics `yaml:"grid"`
	Histories     []HistoryDef `yaml:"histories"`
}

// DefaultTopics returns the topic map of the reference installation.
func DefaultTopics() *Topics {
	return &Topics{
		ConfigVersion: 1,
		BMV: DeviceTopics{
			Prefix:     "mqtt.0.bmv",
			Keywords:   []string{"CE", "SOC", "DM", "H4", "H17", "H18", "H6", "H9", "I", "P", "Relay", "TTG", "V"},
			LastChange: "mqtt.0.bmv.V",
		},
		MPPT: DeviceTopics{
			Prefix:     "mqtt.0.mppt",
			Keywords:   []string{"CS", "H19", "H20", "H21", "H22", "H23", "I", "PPV", "V", "VPV"},
			LastChange: "mqtt.0.mppt.V",
		},
		Grid: DeviceTopics{
			Prefix:     "sonoff.0.TasmotaElite",
			Keywords:   []string{"ENERGY_Voltage", "ENERGY_Current", "ENERGY_Power", "alive"},
			LastChange: "sonoff.0.TasmotaElite.ENERGY_Voltage",
		},
		Histories: []HistoryDef{
			{Bucket: "bmv.charge", Topic: "mqtt.0.bmv.SOC", Days: 21, Policy: "avg", Scale: 1},
			{Bucket: "mppt.ppv", Topic: "mqtt.0.mppt.PPV", Days: 21, Policy: "avg", Scale: 1},
			{Bucket: "mppt.yield", Topic: "mqtt.0.mppt.H22", Days: 21, Policy: "max", Scale: 0.01, AxisMax: 3.0},
			{Bucket: "grid.power", Topic: "sonoff.0.TasmotaElite.ENERGY_Power", Days: 7, Policy: "max", Scale: 1},
			{Bucket: "grid.yield", Topic: "sonoff.0.TasmotaElite.ENERGY_Yesterday", Days: 7, Policy: "max", Scale: 1, AxisMax: 2.0},
		},
	}
}

// LoadTopics reads a yaml topic map. Sections missing from the file
// keep their defaults; an empty path returns the defaults.
func LoadTopics(path string) (*Topics, error) {
	topics := DefaultTopics()
	if path == "" {
		return topics, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, topics); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := topics.Validate(); err != nil {
		return nil, err
	}
	return topics, nil
}

// Validate checks the history definitions and fills in a zero scale.
func (t *Topics) Validate() error {
	seen := make(map[string]bool)

	for i := range t.Histories {
		h := &t.Histories[i]
		if h.Bucket == "" || h.Topic == "" {
			return fmt.Errorf("histories[%d]: bucket and topic are required", i)
		}
		if seen[h.Bucket] {
			return fmt.Errorf("histories[%d]: bucket %s defined twice", i, h.Bucket)
		}
		seen[h.Bucket] = true

		if h.Days <= 0 {
			return fmt.Errorf("histories[%d]: days must be positive, got %d", i, h.Days)
		}
		if _, err := history.ParsePolicy(h.Policy); err != nil {
			return fmt.Errorf("histories[%d]: %w", i, err)
		}
		if h.Scale == 0 {
			h.Scale = 1
		}
	}
	return nil
}
