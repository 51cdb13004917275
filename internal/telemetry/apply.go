package telemetry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/thisdougb/solarmon/internal/vedirect"
)

// Device is a telemetry source whose fields are addressed by keyword,
// the VE.Direct label or the last element of a broker topic.
type Device interface {
	Apply(records []vedirect.Record) (int, error)
	Keywords() []string
}

type fieldSet struct {
	numbers map[string]*float64
	texts   map[string]*string
}

// apply assigns each known record to its field. Unknown keywords are
// ignored, values that do not parse are left untouched and reported.
func (f fieldSet) apply(records []vedirect.Record) (int, error) {
	var errs []error
	applied := 0

	for _, rec := range records {
		if p, ok := f.numbers[rec.Keyword]; ok {
			v, err := parseNumber(rec.Value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", rec.Keyword, err))
				continue
			}
			*p = v
			applied++
			continue
		}
		if p, ok := f.texts[rec.Keyword]; ok {
			*p = strings.Trim(rec.Value, "\"")
			applied++
		}
	}

	return applied, errors.Join(errs...)
}

func (f fieldSet) keywords() []string {
	out := make([]string, 0, len(f.numbers)+len(f.texts))
	for k := range f.numbers {
		out = append(out, k)
	}
	for k := range f.texts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// parseNumber accepts the number formats seen on the wire: plain
// decimals, quoted values from the broker, and the "---" VE.Direct
// sends for an unknown time-to-go.
func parseNumber(s string) (float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "\"")
	if s == "---" {
		return -1, nil
	}
	return strconv.ParseFloat(s, 64)
}

func (b *BMV) fields() fieldSet {
	return fieldSet{
		numbers: map[string]*float64{
			"CE":  &b.ConsumedAmpHours,
			"SOC": &b.StateOfCharge,
			"DM":  &b.MidPointDeviation,
			"H4":  &b.NumberOfChargeCycles,
			"H17": &b.DischargedEnergy,
			"H18": &b.ChargedEnergy,
			"H6":  &b.CumulativeAmpHoursDrawn,
			"H9":  &b.SecondsSinceLastFullCharge,
			"I":   &b.BatteryCurrent,
			"P":   &b.InstantaneousPower,
			"TTG": &b.TimeToGo,
			"V":   &b.MainVoltage,
			"AR":  &b.AlarmReason,
		},
		texts: map[string]*string{
			"Relay": &b.Relay,
		},
	}
}

// Apply assigns battery monitor records by VE.Direct label.
func (b *BMV) Apply(records []vedirect.Record) (int, error) {
	return b.fields().apply(records)
}

// Keywords lists the labels Apply understands.
func (b *BMV) Keywords() []string {
	return b.fields().keywords()
}

func (m *MPPT) fields() fieldSet {
	return fieldSet{
		numbers: map[string]*float64{
			"CS":  &m.StateOfOperation,
			"H19": &m.YieldTotal,
			"H20": &m.YieldToday,
			"H21": &m.MaximumPowerToday,
			"H22": &m.YieldYesterday,
			"H23": &m.MaximumPowerYesterday,
			"I":   &m.BatteryCurrent,
			"PPV": &m.PanelPower,
			"V":   &m.MainVoltage,
			"VPV": &m.PanelVoltage,
			"ERR": &m.ErrorCode,
		},
	}
}

// Apply assigns charge controller records by VE.Direct label.
func (m *MPPT) Apply(records []vedirect.Record) (int, error) {
	return m.fields().apply(records)
}

// Keywords lists the labels Apply understands.
func (m *MPPT) Keywords() []string {
	return m.fields().keywords()
}

func (g *GridPlug) fields() fieldSet {
	return fieldSet{
		numbers: map[string]*float64{
			"ENERGY_Voltage": &g.Voltage,
			"ENERGY_Current": &g.Current,
			"ENERGY_Power":   &g.Power,
		},
		texts: map[string]*string{
			"alive": &g.Alive,
		},
	}
}

// Apply assigns smart plug values by broker state name.
func (g *GridPlug) Apply(records []vedirect.Record) (int, error) {
	return g.fields().apply(records)
}

// Keywords lists the state names Apply understands.
func (g *GridPlug) Keywords() []string {
	return g.fields().keywords()
}

// StateName describes the MPPT CS value.
func StateName(cs float64) string {
	switch int(cs) {
	case 0:
		return "Off"
	case 1:
		return "Low power"
	case 2:
		return "Fault"
	case 3:
		return "Bulk"
	case 4:
		return "Absorption"
	case 5:
		return "Float"
	case 9:
		return "Inverting"
	}
	return "Unknown"
}
