package weather

import (
	"fmt"
	"net/http"
	"time"
)

// OpenWeather's historic one-call endpoint only keeps 5 days of data.
const openWeatherRetention = 5 * secondsPerDay

type OpenWeather struct {
	apiKey string

	baseURL    string
	httpClient *http.Client
	sleep      func(time.Duration)
	now        func() time.Time
}

func NewOpenWeather(apiKey string) *OpenWeather {
	return &OpenWeather{
		apiKey:     apiKey,
		baseURL:    "https://api.openweathermap.org/data/2.5",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

type owCurrentResponse struct {
	Current struct {
		Temp float64 `json:"temp"`
	} `json:"current"`
}

type owHistoricResponse struct {
	Hourly []struct {
		Dt   int64   `json:"dt"`
		Temp float64 `json:"temp"`
	} `json:"hourly"`
}

func (o *OpenWeather) TemperatureAt(lat, lon float64, at time.Time) (float64, error) {
	// The live endpoint answers for recent instants; older ones go
	// through the historic endpoint.
	if o.now().Sub(at).Abs() < time.Hour {
		url := fmt.Sprintf("%s/onecall?lat=%v&lon=%v&units=metric&exclude=minutely,hourly,daily,alerts&appid=%s",
			o.baseURL, lat, lon, o.apiKey)

		var data owCurrentResponse
		if err := getJSON(o.httpClient, o.sleep, url, &data); err != nil {
			return 0, err
		}
		return data.Current.Temp, nil
	}

	url := fmt.Sprintf("%s/onecall/timemachine?lat=%v&lon=%v&units=metric&dt=%d&appid=%s",
		o.baseURL, lat, lon, at.Unix(), o.apiKey)

	var data owHistoricResponse
	if err := getJSON(o.httpClient, o.sleep, url, &data); err != nil {
		return 0, err
	}
	samples := make([]Sample, 0, len(data.Hourly))
	for _, hour := range data.Hourly {
		samples = append(samples, Sample{Time: time.Unix(hour.Dt, 0).UTC(), TemperatureC: hour.Temp})
	}
	sortSamples(samples)
	if temp := TemperatureBefore(samples, at); temp != nil {
		return *temp, nil
	}
	return 0, fmt.Errorf("no temperature sample covers %s", at.Format(time.RFC3339))
}

func (o *OpenWeather) TemperatureSeriesForDay(lat, lon float64, date time.Time) ([]Sample, error) {
	now := o.now()
	window := dayWindow(date, now)

	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Unix()
	if window[0] <= nowDay-openWeatherRetention {
		return nil, fmt.Errorf("%w: OpenWeather historic data covers 5 days, requested %s",
			ErrRetentionExceeded, date.Format("2006-01-02"))
	}

	var samples []Sample
	for _, dayStart := range window {
		url := fmt.Sprintf("%s/onecall/timemachine?lat=%v&lon=%v&units=metric&dt=%d&appid=%s",
			o.baseURL, lat, lon, dayStart, o.apiKey)

		var data owHistoricResponse
		if err := getJSON(o.httpClient, o.sleep, url, &data); err != nil {
			return nil, err
		}
		for _, hour := range data.Hourly {
			samples = append(samples, Sample{
				Time:         time.Unix(hour.Dt, 0).UTC(),
				TemperatureC: hour.Temp,
			})
		}
	}
	sortSamples(samples)
	return samples, nil
}
