package archive

import (
	"database/sql"
	"time"

	"github.com/solarpush/solarpush/pkg/types"
)

func InsertReading(reading *types.Reading) error {
	db := GetDB()

	var temperature sql.NullFloat64
	if reading.TemperatureC != nil {
		temperature = sql.NullFloat64{Float64: *reading.TemperatureC, Valid: true}
	}

	_, err := db.Exec(
		"INSERT INTO readings "+
			"(timestamp, status, power_w, eday_kwh, etotal_kwh, grid_voltage, pv_voltage, load_w, energy_used_kwh, soc_pct, temperature) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		reading.Timestamp.Unix(),
		int(reading.Status),
		reading.PowerW,
		reading.EnergyTodayKwh,
		reading.EnergyTotalKwh,
		reading.GridVoltageV,
		reading.PvVoltageV,
		reading.LoadW,
		reading.EnergyUsedKwh,
		reading.SocPct,
		temperature,
	)
	if err != nil {
		return err
	}
	return nil
}

// SummarizeDay aggregates the archived readings of one calendar day.
// Power is averaged and peaked over samples, the energy counters take
// the day's maximum since they only ever count up within a day.
func SummarizeDay(day time.Time) (*DaySummary, error) {
	db := GetDB()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	row := db.QueryRow(
		"SELECT COUNT(*), "+
			"COALESCE(AVG(power_w), 0), "+
			"COALESCE(MAX(power_w), 0), "+
			"COALESCE(MAX(eday_kwh), 0), "+
			"COALESCE(MAX(energy_used_kwh), 0) "+
			"FROM readings WHERE timestamp >= ? AND timestamp < ?",
		start.Unix(),
		end.Unix(),
	)

	summary := &DaySummary{Day: start.Format("2006-01-02")}
	err := row.Scan(
		&summary.SampleCount,
		&summary.AvgPowerW,
		&summary.PeakPowerW,
		&summary.EnergyTodayKwh,
		&summary.EnergyUsedKwh,
	)
	if err != nil {
		return nil, err
	}
	return summary, nil
}
