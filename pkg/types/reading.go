package types

import "time"

// InverterStatus matches the status codes reported by the SEMS portal.
type InverterStatus int

const (
	StatusUnknown InverterStatus = iota
	StatusWaiting
	StatusNormal
	StatusFault
	StatusOffline
)

func (s InverterStatus) String() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusNormal:
		return "Normal"
	case StatusFault:
		return "Fault"
	case StatusOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// StatusFromCode maps a SEMS inverter status code to an InverterStatus.
// Codes: -1 offline, 0 waiting, 1 normal, 2 fault.
func StatusFromCode(code int) InverterStatus {
	switch code {
	case -1:
		return StatusOffline
	case 0:
		return StatusWaiting
	case 1:
		return StatusNormal
	case 2:
		return StatusFault
	default:
		return StatusUnknown
	}
}

// StatusFromLabel maps a textual work-mode label, as published over MQTT,
// to an InverterStatus.
func StatusFromLabel(label string) InverterStatus {
	switch label {
	case "Waiting":
		return StatusWaiting
	case "Normal":
		return StatusNormal
	case "Fault":
		return StatusFault
	case "Offline":
		return StatusOffline
	default:
		return StatusUnknown
	}
}

// Reading is one normalized snapshot of a station, regardless of which
// source produced it. Energy counters are cumulative and reset daily
// upstream; the change filter in the runner decides what gets submitted.
type Reading struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    InverterStatus `json:"status"`

	PowerW         float64 `json:"pgrid_w"`
	EnergyTodayKwh float64 `json:"eday_kwh"`
	EnergyTotalKwh float64 `json:"etotal_kwh"`
	GridVoltageV   float64 `json:"grid_voltage"`
	PvVoltageV     float64 `json:"pv_voltage"`
	LoadW          float64 `json:"load"`
	EnergyUsedKwh  float64 `json:"energy_used"`
	SocPct         float64 `json:"soc"`

	// Optional fields; nil when the source did not provide them.
	TemperatureC *float64 `json:"temperature,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// HasLocation reports whether the reading carries usable coordinates
// for weather enrichment.
func (r *Reading) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Voltage returns the voltage to submit, either grid or PV depending
// on configuration.
func (r *Reading) Voltage(usePv bool) float64 {
	if usePv {
		return r.PvVoltageV
	}
	return r.GridVoltageV
}
