package units

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// KwhToWh converts a cumulative kWh counter to the rounded integer
// watt-hour figure PVOutput expects. No negative values.
func KwhToWh(kwh float64) int {
	if kwh < 0 {
		return 0
	}
	return int(math.Round(kwh * 1000))
}

func WhToKwh(wh int) float64 {
	return float64(wh) / 1000
}

// ParseSuffixed parses a numeric value carrying a unit suffix as reported
// by the SEMS portal, e.g. "230.5V" or "1500(W)". Unparseable values
// collapse to 0, matching the portal's own sloppy payloads.
func ParseSuffixed(value, unit string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(value, unit), 64)
	if err != nil {
		return 0
	}
	return v
}

// FractionalHours returns the clock time of t as fractional hours since
// midnight in t's location.
func FractionalHours(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

// Round3 rounds to three decimals, the resolution of cumulative energy
// entries in a day trace.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
