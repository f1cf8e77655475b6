package runner

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/solarpush/solarpush/pkg/config"
	"github.com/solarpush/solarpush/pkg/csvsink"
	"github.com/solarpush/solarpush/pkg/goodwe"
	"github.com/solarpush/solarpush/pkg/livefeed"
	"github.com/solarpush/solarpush/pkg/types"
	"github.com/solarpush/solarpush/pkg/weather"
)

// Source is any inverter reader that can produce the current reading.
type Source interface {
	FetchCurrent() (*types.Reading, error)
}

// Notifier pushes out-of-band messages about failures and quota.
type Notifier interface {
	Notify(message string)
}

// Deliverer uploads readings to the delivery target.
type Deliverer interface {
	AddStatus(at time.Time, powerW, edayKwh, energyUsedKwh, loadW float64, temperature, voltage *float64) error
	AddDay(entries []types.Reading, temperatures []weather.Sample) error
	AddDayCSV(entries []types.Reading) error
}

// SessionState tracks the last submitted energy counters so that
// unchanged readings are not resubmitted while the inverter idles.
type SessionState struct {
	LastEnergyTodayKwh float64
	LastEnergyUsedKwh  float64
}

// Update applies the change filter to one reading and returns the
// counter values to submit. A counter only follows the reading when
// its instantaneous rate is non-zero or the counter moved by at least
// 0.001 kWh.
func (s *SessionState) Update(reading *types.Reading) (edayKwh, energyUsedKwh float64) {
	if reading.PowerW != 0 || math.Abs(reading.EnergyTodayKwh-s.LastEnergyTodayKwh) >= 0.001 {
		s.LastEnergyTodayKwh = reading.EnergyTodayKwh
	} else {
		log.Debug("Ignoring unchanged daily energy reading")
	}

	if reading.LoadW != 0 || math.Abs(reading.EnergyUsedKwh-s.LastEnergyUsedKwh) >= 0.001 {
		s.LastEnergyUsedKwh = reading.EnergyUsedKwh
	} else {
		log.Debug("Ignoring unchanged consumption reading")
	}

	return s.LastEnergyTodayKwh, s.LastEnergyUsedKwh
}

// Runner owns the pipeline wiring and drives the three run modes.
type Runner struct {
	cfg      *config.Config
	source   Source
	goodwe   *goodwe.Client
	provider weather.Provider
	pvo      Deliverer
	sink     *csvsink.Sink
	hub      *livefeed.Hub
	notifier Notifier

	state   SessionState
	lastDay time.Time

	now func() time.Time
}
