// Delivery protocol for PVOutput: single-sample live push and bulk
// day upload, both driven through one rate-limit-aware bounded-retry
// request loop.
package pvoutput

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/solarpush/solarpush/pkg/types"
	"github.com/solarpush/solarpush/pkg/units"
	"github.com/solarpush/solarpush/pkg/weather"
)

var (
	// ErrAuthRejected means the service refused our credentials; the
	// process must abort rather than hammer the API.
	ErrAuthRejected = fmt.Errorf("PVOutput rejected the API credentials")

	ErrDeliveryFailed = fmt.Errorf("failed to deliver readings to PVOutput")
)

const (
	statusURL = "https://pvoutput.org/service/r2/addstatus.jsp"
	batchURL  = "https://pvoutput.org/service/r2/addbatchstatus.jsp"

	// Largest batch the bulk endpoint accepts per request.
	chunkSize = 30

	// Below this many remaining requests we start warning.
	lowQuotaThreshold = 10
)

func NewClient(systemId, apiKey string, notifier Notifier) *Client {
	return &Client{
		systemId:   systemId,
		apiKey:     apiKey,
		notifier:   notifier,
		statusURL:  statusURL,
		batchURL:   batchURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		sleep:      time.Sleep,
		now:        time.Now,
		rateLimit:  RateLimitState{Remaining: -1},
	}
}

// RateLimit returns the quota state reported by the last response.
func (c *Client) RateLimit() RateLimitState {
	return c.rateLimit
}

// AddStatus pushes one live sample.
func (c *Client) AddStatus(at time.Time, powerW, edayKwh, energyUsedKwh, loadW float64, temperature, voltage *float64) error {
	payload := url.Values{
		"d":  {at.Format("20060102")},
		"t":  {at.Format("15:04")},
		"v1": {strconv.Itoa(units.KwhToWh(edayKwh))},
		"v2": {strconv.Itoa(int(math.Round(powerW)))},
		"v3": {strconv.Itoa(units.KwhToWh(energyUsedKwh))},
		"v4": {strconv.Itoa(int(math.Round(loadW)))},
	}
	if temperature != nil {
		payload.Set("v5", formatFloat(*temperature))
	}
	if voltage != nil {
		payload.Set("v6", formatFloat(*voltage))
	}

	return c.call(c.statusURL, payload)
}

// AddDay uploads a reconstructed day trace in chunks of at most 30
// records. When a temperature series is given, each record carries the
// latest temperature sample at or before its timestamp.
func (c *Client) AddDay(entries []types.Reading, temperatures []weather.Sample) error {
	for _, chunk := range chunkReadings(entries) {
		records := make([]string, 0, len(chunk))
		for i := range chunk {
			entry := &chunk[i]
			fields := []string{
				entry.Timestamp.Format("20060102"),
				entry.Timestamp.Format("15:04"),
				strconv.Itoa(units.KwhToWh(entry.EnergyTodayKwh)),
				formatFloat(entry.PowerW),
				strconv.Itoa(units.KwhToWh(entry.EnergyUsedKwh)),
				formatFloat(entry.LoadW),
			}
			if temperatures != nil {
				fields = append(fields, "", "")
				if temp := weather.TemperatureBefore(temperatures, entry.Timestamp); temp != nil {
					fields = append(fields, formatFloat(*temp))
				}
			}
			records = append(records, strings.Join(fields, ","))
		}

		payload := url.Values{"data": {strings.Join(records, ";")}}
		if err := c.call(c.batchURL, payload); err != nil {
			return err
		}
	}
	return nil
}

// AddDayCSV uploads entries parsed back from a CSV sink file; these
// carry their own temperature and voltage columns.
func (c *Client) AddDayCSV(entries []types.Reading) error {
	for _, chunk := range chunkReadings(entries) {
		records := make([]string, 0, len(chunk))
		for i := range chunk {
			entry := &chunk[i]
			temperature := ""
			if entry.TemperatureC != nil {
				temperature = formatFloat(*entry.TemperatureC)
			}
			fields := []string{
				entry.Timestamp.Format("20060102"),
				entry.Timestamp.Format("15:04"),
				strconv.Itoa(units.KwhToWh(entry.EnergyTodayKwh)),
				formatFloat(entry.PowerW),
				strconv.Itoa(units.KwhToWh(entry.EnergyUsedKwh)),
				formatFloat(entry.LoadW),
				temperature,
				formatFloat(entry.GridVoltageV),
			}
			records = append(records, strings.Join(fields, ","))
		}

		payload := url.Values{"data": {strings.Join(records, ";")}}
		if err := c.call(c.batchURL, payload); err != nil {
			return err
		}
	}
	return nil
}

func chunkReadings(entries []types.Reading) [][]types.Reading {
	var chunks [][]types.Reading
	for start := 0; start < len(entries); start += chunkSize {
		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, entries[start:end])
	}
	return chunks
}

// call posts a form payload with bounded retries. Credential rejection
// aborts immediately; rate limiting and service unavailability sleep
// inline and retry; transport failures back off cubically. After 3
// failed attempts the sample is dropped with ErrDeliveryFailed.
func (c *Client) call(endpoint string, payload url.Values) error {
	log.Debug(payload.Encode())

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		retry, err := c.post(endpoint, payload)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err

		if attempt < 3 {
			c.sleep(time.Duration(attempt*attempt*attempt) * time.Second)
		}
	}

	c.notify(ErrDeliveryFailed.Error())
	return errors.Join(ErrDeliveryFailed, lastErr)
}

// post performs one attempt. The bool reports whether the failure is
// retryable.
func (c *Client) post(endpoint string, payload url.Values) (bool, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Pvoutput-Apikey", c.apiKey)
	req.Header.Set("X-Pvoutput-SystemId", c.systemId)
	req.Header.Set("X-Rate-Limit", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warnf("PVOutput request failed: %v", err)
		c.notify(fmt.Sprintf("PVOutput request failed: %v", err))
		return true, err
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp.Header)
	if c.rateLimit.Remaining >= 0 && c.rateLimit.Remaining < lowQuotaThreshold {
		message := fmt.Sprintf("Only %d PVOutput requests left, reset after %d seconds",
			c.rateLimit.Remaining, int(c.rateLimit.ResetIn.Seconds()))
		log.Warn(message)
		c.notify(message)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		log.Warnf("Unable to connect to pvoutput.org: %s", resp.Status)
		return false, ErrAuthRejected
	case resp.StatusCode == http.StatusForbidden:
		log.Warnf("PVOutput rate limit hit, sleeping until reset: %s", resp.Status)
		c.sleep(c.rateLimit.ResetIn + time.Second)
		return true, fmt.Errorf("rate limited: %s", resp.Status)
	case resp.StatusCode == http.StatusServiceUnavailable:
		log.Warnf("PVOutput unavailable: %s", resp.Status)
		c.sleep(120 * time.Second)
		return true, fmt.Errorf("service unavailable: %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		log.Warnf("PVOutput returned status %s", resp.Status)
		return true, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	log.Infof("PVOutput result: %s", resp.Status)
	return false, nil
}

func (c *Client) updateRateLimit(header http.Header) {
	if remaining := header.Get("X-Rate-Limit-Remaining"); remaining != "" {
		if v, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = v
		}
	}
	if reset := header.Get("X-Rate-Limit-Reset"); reset != "" {
		if v, err := strconv.ParseFloat(reset, 64); err == nil {
			resetIn := time.Duration(v-float64(c.now().Unix())) * time.Second
			if resetIn < 0 {
				resetIn = 0
			}
			c.rateLimit.ResetIn = resetIn
		}
	}
}

func (c *Client) notify(message string) {
	if c.notifier != nil {
		c.notifier.Notify(message)
	}
}

// formatFloat renders a value the way PVOutput expects: no exponent,
// no trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
