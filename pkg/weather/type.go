package weather

import "time"

// Sample is one point of an hourly temperature series.
type Sample struct {
	Time         time.Time
	TemperatureC float64
}

// Provider is the capability contract shared by the weather backends.
// Selection between them happens once at startup based on which API key
// is configured.
type Provider interface {
	// TemperatureAt returns the ambient temperature at a location and
	// instant. Instants in the recent past resolve to current conditions.
	TemperatureAt(lat, lon float64, at time.Time) (float64, error)

	// TemperatureSeriesForDay returns hourly temperatures covering the
	// given calendar day. Implementations fetch a window wide enough
	// (prior day through next day) to cover any timezone offset.
	TemperatureSeriesForDay(lat, lon float64, date time.Time) ([]Sample, error)
}
