// Package runner wires the configured source, enrichment, sinks and
// delivery together and drives the live loop and the backfill modes.
package runner

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/solarpush/solarpush/pkg/archive"
	"github.com/solarpush/solarpush/pkg/config"
	"github.com/solarpush/solarpush/pkg/csvsink"
	"github.com/solarpush/solarpush/pkg/goodwe"
	"github.com/solarpush/solarpush/pkg/livefeed"
	"github.com/solarpush/solarpush/pkg/mqtt_reader"
	"github.com/solarpush/solarpush/pkg/notify"
	"github.com/solarpush/solarpush/pkg/pvoutput"
	"github.com/solarpush/solarpush/pkg/types"
	"github.com/solarpush/solarpush/pkg/weather"
)

// New builds a runner from validated configuration. Source selection
// happens here, before any network activity.
func New(cfg *config.Config) (*Runner, error) {
	notifier := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatId)

	r := &Runner{
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
	}

	switch {
	case cfg.HasGoodwe():
		r.goodwe = goodwe.NewClient(cfg.GwStationId, cfg.GwAccount, cfg.GwPassword)
		r.source = r.goodwe
	case cfg.HasMqtt():
		r.source = mqtt_reader.NewSnapshotReader(
			cfg.MqttHost, cfg.MqttPort, cfg.MqttUser, cfg.MqttPassword, cfg.MqttTopic)
	}

	r.provider = weather.SelectProvider(cfg.DarkSkyApiKey, cfg.OpenWeatherApiKey)

	if cfg.HasPvo() {
		r.pvo = pvoutput.NewClient(cfg.PvoSystemId, cfg.PvoApiKey, notifier)
	}

	if cfg.Csv != "" {
		r.sink = csvsink.NewSink(cfg.Csv, cfg.CsvDecimalComma)
	}

	if cfg.Archive {
		archive.InitializeDatabase()
	}

	if cfg.ListenAddress != "" {
		r.hub = livefeed.NewHub()
		go func() {
			if err := r.hub.Start(cfg.ListenAddress); err != nil {
				log.Errorf("Live feed stopped: %v", err)
			}
		}()
	}

	return r, nil
}

// RunOnce executes one poll-filter-enrich-deliver cycle.
func (r *Runner) RunOnce() error {
	reading, err := r.source.FetchCurrent()
	if err != nil {
		return err
	}

	if r.cfg.SkipOffline && reading.Status == types.StatusOffline {
		log.Debug("Skipped upload as the inverter is offline")
		return nil
	}

	if r.sink != nil {
		if reading.Status == types.StatusOffline {
			log.Debug("Don't append offline data to CSV file")
		} else if err := r.sink.Append(reading); err != nil {
			log.Warnf("Failed to append reading to CSV file: %v", err)
		}
	}

	edayKwh, energyUsedKwh := r.state.Update(reading)

	if r.provider != nil && reading.HasLocation() && reading.TemperatureC == nil {
		if temperature, err := r.provider.TemperatureAt(*reading.Latitude, *reading.Longitude, reading.Timestamp); err != nil {
			log.Warnf("Failed to fetch temperature: %v", err)
		} else {
			reading.TemperatureC = &temperature
		}
	}

	if r.pvo != nil {
		voltage := reading.Voltage(r.cfg.PvVoltage)
		if err := r.pvo.AddStatus(reading.Timestamp, reading.PowerW, edayKwh, energyUsedKwh,
			reading.LoadW, reading.TemperatureC, &voltage); err != nil {
			return err
		}
	} else {
		log.Debugf("%+v", reading)
		log.Warning("Missing PVO id and/or key")
	}

	if r.cfg.Archive {
		if err := archive.InsertReading(reading); err != nil {
			log.Warnf("Failed to archive reading: %v", err)
		}
		r.logDayRollover(reading.Timestamp)
	}

	if r.hub != nil {
		r.hub.Broadcast(reading)
	}

	return nil
}

// RunLive polls on a wall-clock-aligned interval until interrupted.
// Cycle errors are logged and notified, never fatal; the one exception
// is credential rejection by the delivery target, which must not be
// hammered with known-bad keys.
func (r *Runner) RunLive(interval time.Duration) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	startTime := r.now()
	for {
		if err := r.RunOnce(); err != nil {
			if errors.Is(err, pvoutput.ErrAuthRejected) {
				return err
			}
			message := fmt.Sprintf("Failed to publish data to PVOutput: %v", err)
			log.Error(message)
			r.notifier.Notify(message)
		}

		delay := nextDelay(startTime, r.now(), interval)
		log.Debugf("Next poll in %v", delay)

		select {
		case <-interrupt:
			log.Info("Interrupt received, shutting down")
			return nil
		case <-time.After(delay):
		}
	}
}

// RunBackfillDate reconstructs one historical day from the portal and
// uploads it in bulk. Only the portal source carries history.
func (r *Runner) RunBackfillDate(date time.Time) error {
	if r.goodwe == nil {
		return fmt.Errorf("backfilling historic data needs SEMS portal credentials, the broker keeps no history")
	}

	entries, err := r.goodwe.GetDayReadings(date)
	if err != nil {
		return err
	}

	if actualKwh, err := r.goodwe.GetActualKwh(date); err != nil {
		log.Warnf("Failed to fetch authoritative daily total: %v", err)
	} else if len(entries) > 0 {
		log.Infof("Day total: %.3f kWh reconstructed, %.3f kWh reported by portal",
			entries[len(entries)-1].EnergyTodayKwh, actualKwh)
	}

	if r.pvo == nil {
		for _, entry := range entries {
			log.Infof("%s: %6.0f W %6.2f kWh", entry.Timestamp.Format("2006-01-02 15:04"),
				entry.PowerW, entry.EnergyTodayKwh)
		}
		log.Warning("Missing PVO id and/or key")
		return nil
	}

	var temperatures []weather.Sample
	if r.provider != nil {
		lat, lon, err := r.goodwe.GetLocation()
		if err != nil || lat == nil || lon == nil {
			log.Warnf("Station location unavailable, skipping temperature series: %v", err)
		} else if temperatures, err = r.provider.TemperatureSeriesForDay(*lat, *lon, date); err != nil {
			log.Warnf("Failed to fetch temperature series: %v", err)
			temperatures = nil
		}
	}

	return r.pvo.AddDay(entries, temperatures)
}

// RunBackfillCSV re-uploads a previously written sink file.
func (r *Runner) RunBackfillCSV(path string) error {
	if r.pvo == nil {
		return fmt.Errorf("uploading a CSV file needs PVOutput credentials")
	}

	entries, err := csvsink.ReadDay(path, r.cfg.CsvDecimalComma)
	if err != nil {
		return err
	}
	return r.pvo.AddDayCSV(entries)
}

// logDayRollover emits the archive summary of the previous day the
// first time a reading for a new day arrives.
func (r *Runner) logDayRollover(at time.Time) {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	if !r.lastDay.IsZero() && day.After(r.lastDay) {
		if summary, err := archive.SummarizeDay(r.lastDay); err != nil {
			log.Warnf("Failed to summarize %s: %v", r.lastDay.Format("2006-01-02"), err)
		} else {
			log.Infof("%s: %d samples, avg %.0f W, peak %.0f W, %.3f kWh generated, %.3f kWh used",
				summary.Day, summary.SampleCount, summary.AvgPowerW, summary.PeakPowerW,
				summary.EnergyTodayKwh, summary.EnergyUsedKwh)
		}
	}
	r.lastDay = day
}

// nextDelay aligns polls to the wall clock so a 5 minute interval
// fires at :00, :05, :10 regardless of how long a cycle took.
func nextDelay(start, now time.Time, interval time.Duration) time.Duration {
	elapsed := now.Sub(start)
	return interval - elapsed%interval
}
