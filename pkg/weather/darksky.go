package weather

import (
	"fmt"
	"net/http"
	"time"
)

type DarkSky struct {
	apiKey string

	baseURL    string
	httpClient *http.Client
	sleep      func(time.Duration)
	now        func() time.Time
}

func NewDarkSky(apiKey string) *DarkSky {
	return &DarkSky{
		apiKey:     apiKey,
		baseURL:    "https://api.darksky.net",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

type dsForecastResponse struct {
	Currently struct {
		Temperature float64 `json:"temperature"`
	} `json:"currently"`
	Hourly struct {
		Data []struct {
			Time        int64   `json:"time"`
			Temperature float64 `json:"temperature"`
		} `json:"data"`
	} `json:"hourly"`
}

func (d *DarkSky) TemperatureAt(lat, lon float64, at time.Time) (float64, error) {
	// Time Machine requests answer with conditions for the requested
	// instant in the same currently block.
	url := fmt.Sprintf("%s/forecast/%s/%v,%v,%d?units=si&exclude=minutely,hourly,daily,alerts",
		d.baseURL, d.apiKey, lat, lon, at.Unix())

	var data dsForecastResponse
	if err := getJSON(d.httpClient, d.sleep, url, &data); err != nil {
		return 0, err
	}
	return data.Currently.Temperature, nil
}

func (d *DarkSky) TemperatureSeriesForDay(lat, lon float64, date time.Time) ([]Sample, error) {
	window := dayWindow(date, d.now())

	var samples []Sample
	for _, dayStart := range window {
		url := fmt.Sprintf("%s/forecast/%s/%v,%v,%d?units=si&exclude=minutely,daily,alerts",
			d.baseURL, d.apiKey, lat, lon, dayStart)

		var data dsForecastResponse
		if err := getJSON(d.httpClient, d.sleep, url, &data); err != nil {
			return nil, err
		}
		for _, hour := range data.Hourly.Data {
			samples = append(samples, Sample{
				Time:         time.Unix(hour.Time, 0).UTC(),
				TemperatureC: hour.Temperature,
			})
		}
	}
	sortSamples(samples)
	return samples, nil
}
