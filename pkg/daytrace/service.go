// Reconstructs a per-sample energy trace for one calendar day from
// independently sampled instantaneous power and load series, then
// reconciles the consumption totals against an authoritative daily figure.
package daytrace

import (
	"fmt"
	"time"

	"github.com/solarpush/solarpush/pkg/types"
	"github.com/solarpush/solarpush/pkg/units"
)

// Sample pairs one instantaneous power reading with the load reading
// taken at the same instant. Callers guarantee the pairing.
type Sample struct {
	Time   time.Time
	PowerW float64
	LoadW  float64
}

// Build integrates the sample series into cumulative energy and
// consumption counters and emits one entry per accepted sample.
//
// Samples with negative power are discarded outright: they produce no
// entry and do not advance the integration clock, so the next accepted
// sample integrates across the full gap since the last accepted one.
// Each accepted sample contributes the previous sample's rate held over
// the elapsed fractional-hour gap.
//
// When actualConsumptionKwh is greater than zero, every entry's
// cumulative consumption is rescaled so the day's final figure matches it.
func Build(samples []Sample, actualConsumptionKwh float64) ([]types.Reading, error) {
	var entries []types.Reading
	var prev *Sample
	var energyKwh, consumedKwh float64

	for i := range samples {
		s := &samples[i]
		if s.PowerW < 0 {
			continue
		}
		if prev != nil {
			if !s.Time.After(prev.Time) {
				return nil, fmt.Errorf("day trace samples out of order at %s", s.Time.Format("15:04:05"))
			}
			gapHours := s.Time.Sub(prev.Time).Hours()
			energyKwh += prev.PowerW / 1000 * gapHours
			consumedKwh += prev.LoadW / 1000 * gapHours
		}

		entries = append(entries, types.Reading{
			Timestamp:      s.Time,
			PowerW:         s.PowerW,
			LoadW:          s.LoadW,
			EnergyTodayKwh: units.Round3(energyKwh),
			EnergyUsedKwh:  units.Round3(consumedKwh),
		})
		prev = s
	}

	if actualConsumptionKwh > 0 && consumedKwh > 0 {
		correction := actualConsumptionKwh / consumedKwh
		for i := range entries {
			entries[i].EnergyUsedKwh *= correction
		}
	}

	return entries, nil
}

// Zip pairs power and load series sampled at the same instants.
// The series must have equal length.
func Zip(times []time.Time, powersW, loadsW []float64) ([]Sample, error) {
	if len(times) != len(powersW) || len(powersW) != len(loadsW) {
		return nil, fmt.Errorf("mismatched series lengths: %d timestamps, %d power, %d load",
			len(times), len(powersW), len(loadsW))
	}
	samples := make([]Sample, len(times))
	for i := range times {
		samples[i] = Sample{Time: times[i], PowerW: powersW[i], LoadW: loadsW[i]}
	}
	return samples, nil
}
