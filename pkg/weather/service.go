package weather

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrRetentionExceeded = fmt.Errorf("date is outside the weather provider's retention window")

const secondsPerDay = 86400

// SelectProvider picks a backend by which API key is configured.
// Returns nil when neither is set; enrichment is then a no-op.
func SelectProvider(darkSkyKey, openWeatherKey string) Provider {
	if darkSkyKey != "" {
		return NewDarkSky(darkSkyKey)
	}
	if openWeatherKey != "" {
		return NewOpenWeather(openWeatherKey)
	}
	return nil
}

// TemperatureBefore returns the temperature of the latest sample at or
// before t, or nil when the series has no such sample.
func TemperatureBefore(samples []Sample, t time.Time) *float64 {
	var match *Sample
	for i := range samples {
		if !samples[i].Time.After(t) {
			match = &samples[i]
		}
	}
	if match == nil {
		return nil
	}
	temp := match.TemperatureC
	return &temp
}

// dayWindow returns the UTC day-start timestamps to query for date:
// prior day, target day and next day, the last trimmed to now when the
// target day is still in progress.
func dayWindow(date, now time.Time) []int64 {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).Unix()
	window := []int64{dayStart - secondsPerDay, dayStart, dayStart + secondsPerDay}
	if window[2] > now.Unix() {
		window[2] = now.Unix()
	}
	return window
}

func sortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})
}

// getJSON fetches url into out with the same bounded retry behaviour the
// other upstream clients use: 3 attempts, cubic backoff between them.
func getJSON(client *http.Client, sleep func(time.Duration), url string, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = func() error {
			resp, err := client.Get(url)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("weather API returned status %s", resp.Status)
			}
			return json.Unmarshal(body, out)
		}()
		if lastErr == nil {
			return nil
		}

		log.Warnf("Weather API request failed (attempt %d/3): %v", attempt, lastErr)
		if attempt < 3 {
			sleep(time.Duration(attempt*attempt*attempt) * time.Second)
		}
	}
	return fmt.Errorf("failed to call weather API: %w", lastErr)
}
