package telemetry

import (
	"encoding/json"
	"time"

	"github.com/thisdougb/solarmon/internal/history"
)

// History sizes match the pixel width of the graphs they feed.
const (
	ChargeHistorySize = 775
	PPVHistorySize    = 775
	GridHistorySize   = 340
)

// BMV holds battery monitor readings in the device's native units.
type BMV struct {
	ConsumedAmpHours           float64   `json:"consumed_mah"`       // CE
	StateOfCharge              float64   `json:"soc_permille"`       // SOC
	MidPointDeviation          float64   `json:"midpoint_permille"`  // DM
	NumberOfChargeCycles       float64   `json:"charge_cycles"`      // H4
	DischargedEnergy           float64   `json:"discharged_10wh"`    // H17
	ChargedEnergy              float64   `json:"charged_10wh"`       // H18
	CumulativeAmpHoursDrawn    float64   `json:"cumulative_mah"`     // H6
	SecondsSinceLastFullCharge float64   `json:"since_full_seconds"` // H9
	BatteryCurrent             float64   `json:"current_ma"`         // I
	InstantaneousPower         float64   `json:"power_w"`            // P
	Relay                      string    `json:"relay"`              // Relay
	TimeToGo                   float64   `json:"ttg_minutes"`        // TTG
	MainVoltage                float64   `json:"voltage_mv"`         // V
	AlarmReason                float64   `json:"alarm_reason"`       // AR
	LastChange                 time.Time `json:"last_change"`

	ChargeHistory *history.Bucket `json:"-"`
}

// MPPT holds solar charge controller readings.
type MPPT struct {
	StateOfOperation      float64   `json:"state"`               // CS
	YieldTotal            float64   `json:"yield_total_10wh"`    // H19
	YieldToday            float64   `json:"yield_today_10wh"`    // H20
	MaximumPowerToday     float64   `json:"max_power_today_w"`   // H21
	YieldYesterday        float64   `json:"yield_yest_10wh"`     // H22
	MaximumPowerYesterday float64   `json:"max_power_yest_w"`    // H23
	BatteryCurrent        float64   `json:"current_ma"`          // I
	PanelPower            float64   `json:"panel_power_w"`       // PPV
	MainVoltage           float64   `json:"voltage_mv"`          // V
	PanelVoltage          float64   `json:"panel_voltage_mv"`    // VPV
	ErrorCode             float64   `json:"error_code"`          // ERR
	LastChange            time.Time `json:"last_change"`

	PanelPowerHistory *history.Bucket `json:"-"`
	YieldHistory      *history.Bucket `json:"-"`
}

// MarshalJSON adds the name of the CS state next to its code.
func (m MPPT) MarshalJSON() ([]byte, error) {
	type plain MPPT
	return json.Marshal(struct {
		plain
		StateName string `json:"state_name"`
	}{plain(m), StateName(m.StateOfOperation)})
}

// GridPlug holds the smart plug on the grid charger.
type GridPlug struct {
	Voltage    float64   `json:"voltage_v"`
	Current    float64   `json:"current_a"`
	Power      float64   `json:"power_w"`
	Alive      string    `json:"alive"`
	LastChange time.Time `json:"last_change"`

	PowerHistory *history.Bucket `json:"-"`
	YieldHistory *history.Bucket `json:"-"`
}

// Snapshot is everything one refresh cycle knows. It is updated in
// place; a field keeps its previous value until a newer one arrives.
type Snapshot struct {
	RefreshCount uint16    `json:"refresh_count"`
	Updated      time.Time `json:"updated"`

	BMV  BMV      `json:"bmv"`
	MPPT MPPT     `json:"mppt"`
	Grid GridPlug `json:"grid"`
}

// NewSnapshot returns a zeroed snapshot with all history buckets allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		BMV: BMV{
			ChargeHistory: history.NewBucket("bmv.charge", ChargeHistorySize, "%"),
		},
		MPPT: MPPT{
			PanelPowerHistory: history.NewBucket("mppt.ppv", PPVHistorySize, "W"),
			YieldHistory:      history.NewBucket("mppt.yield", PPVHistorySize, "kWh"),
		},
		Grid: GridPlug{
			PowerHistory: history.NewBucket("grid.power", GridHistorySize, "W"),
			YieldHistory: history.NewBucket("grid.yield", GridHistorySize, "kWh"),
		},
	}
}

// Buckets returns every history bucket keyed by its name.
func (s *Snapshot) Buckets() map[string]*history.Bucket {
	out := make(map[string]*history.Bucket)
	for _, b := range []*history.Bucket{
		s.BMV.ChargeHistory,
		s.MPPT.PanelPowerHistory,
		s.MPPT.YieldHistory,
		s.Grid.PowerHistory,
		s.Grid.YieldHistory,
	} {
		if b != nil {
			out[b.Name()] = b
		}
	}
	return out
}

// Clone returns a deep copy, history buckets included.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.BMV.ChargeHistory = cloneBucket(s.BMV.ChargeHistory)
	c.MPPT.PanelPowerHistory = cloneBucket(s.MPPT.PanelPowerHistory)
	c.MPPT.YieldHistory = cloneBucket(s.MPPT.YieldHistory)
	c.Grid.PowerHistory = cloneBucket(s.Grid.PowerHistory)
	c.Grid.YieldHistory = cloneBucket(s.Grid.YieldHistory)
	return &c
}

func cloneBucket(b *history.Bucket) *history.Bucket {
	if b == nil {
		return nil
	}
	return b.Clone()
}

// Stale reports whether a device has not changed for longer than maxAge.
// A zero LastChange means the device never reported and is always stale.
func Stale(lastChange, now time.Time, maxAge time.Duration) bool {
	if lastChange.IsZero() {
		return true
	}
	return now.Sub(lastChange) > maxAge
}
