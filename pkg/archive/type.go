package archive

// DaySummary aggregates one day of archived readings.
type DaySummary struct {
	Day            string  `db:"day"`
	SampleCount    int     `db:"sample_count"`
	AvgPowerW      float64 `db:"avg_power_w"`
	PeakPowerW     float64 `db:"peak_power_w"`
	EnergyTodayKwh float64 `db:"eday_kwh"`
	EnergyUsedKwh  float64 `db:"energy_used_kwh"`
}
