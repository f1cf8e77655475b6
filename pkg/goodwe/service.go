// Polling client for the SEMS portal (GoodWe monitoring backend).
package goodwe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/solarpush/solarpush/pkg/daytrace"
	"github.com/solarpush/solarpush/pkg/types"
	"github.com/solarpush/solarpush/pkg/units"
)

var ErrSourceUnavailable = fmt.Errorf("SEMS portal unavailable")

const (
	globalURL = "https://semsportal.com/api/"
	userAgent = "SEMS Portal/3.1 (iPhone; iOS 13.5.1; Scale/2.00)"

	// Bootstrap token accepted by the portal before login.
	defaultToken = `{"version":"v3.1","client":"ios","language":"en"}`

	// Response code meaning the session token must be renewed.
	codeSessionExpired = 100001

	pacDateLayout = "01/02/2006 15:04:05"
)

func NewClient(stationId, account, password string) *Client {
	return &Client{
		stationId:  stationId,
		account:    account,
		password:   password,
		token:      defaultToken,
		globalURL:  globalURL,
		baseURL:    globalURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// FetchCurrent downloads the most recent station snapshot and aggregates
// it across the station's inverters into one canonical reading.
func (c *Client) FetchCurrent() (*types.Reading, error) {
	payload := url.Values{"powerStationId": {c.stationId}}
	raw, err := c.call("v2/PowerStation/GetMonitorDetailByPowerstationId", payload)
	if err != nil {
		return nil, err
	}

	var detail monitorDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("bad monitor detail payload: %w", err)
	}

	reading := aggregate(&detail, c.now())

	message := fmt.Sprintf("Status: %s, PV power: %.0f W, consumption: %.0f W, grid voltage: %.1f V, "+
		"PV voltage: %.1f V, generated today: %.2f kWh, consumed today: %.2f kWh, SOC: %.0f %%, lifetime: %.1f kWh",
		reading.Status, reading.PowerW, reading.LoadW, reading.GridVoltageV,
		reading.PvVoltageV, reading.EnergyTodayKwh, reading.EnergyUsedKwh,
		reading.SocPct, reading.EnergyTotalKwh)
	if reading.Status == types.StatusNormal || reading.Status == types.StatusOffline {
		log.Info(message)
	} else {
		log.Warn(message)
	}

	return reading, nil
}

// aggregate folds the per-inverter figures into station totals: power and
// load are summed over the inverters in Normal state, voltages and SOC are
// averaged over that subset, and the cumulative energy counters are summed
// across every inverter regardless of state. With no inverter in Normal
// state the first inverter's raw values stand in as a best-effort snapshot.
func aggregate(detail *monitorDetail, at time.Time) *types.Reading {
	reading := &types.Reading{
		Timestamp: at,
		Status:    types.StatusUnknown,
		Latitude:  detail.Info.Latitude,
		Longitude: detail.Info.Longitude,
	}

	stationLoad := units.ParseSuffixed(detail.Powerflow.Load, "(W)")
	stationSoc := units.ParseSuffixed(detail.Powerflow.Soc, "%")

	normal := 0
	for i := range detail.Inverter {
		inverter := &detail.Inverter[i]
		if types.StatusFromCode(inverter.Status) == types.StatusNormal {
			reading.Status = types.StatusNormal
			reading.PowerW += inverter.OutPac
			reading.GridVoltageV += units.ParseSuffixed(inverter.OutputVoltage, "V")
			reading.PvVoltageV += pvVoltage(inverter)
			reading.LoadW += stationLoad
			reading.SocPct += stationSoc
			normal++
		}
		reading.EnergyTodayKwh += inverter.Eday
		reading.EnergyTotalKwh += inverter.Etotal
	}
	reading.EnergyUsedKwh = math.Round(detail.EnergyStatistics.ConsumptionOfLoad*100) / 100

	if normal > 0 {
		// These values should be the average, not the sum
		reading.GridVoltageV /= float64(normal)
		reading.PvVoltageV /= float64(normal)
		reading.SocPct /= float64(normal)
	} else if len(detail.Inverter) > 0 {
		// No inverter online, pick the first as a best-effort snapshot
		inverter := &detail.Inverter[0]
		reading.Status = types.StatusFromCode(inverter.Status)
		reading.PowerW = inverter.OutPac
		reading.GridVoltageV = units.ParseSuffixed(inverter.OutputVoltage, "V")
		reading.PvVoltageV = pvVoltage(inverter)
		reading.LoadW = stationLoad
	}

	return reading
}

// pvVoltage sums the string voltages of an inverter, ignoring absent
// strings and the portal's 6553x overflow readings.
func pvVoltage(inverter *inverterDetail) float64 {
	var sum float64
	for _, v := range []float64{inverter.D.Vpv1, inverter.D.Vpv2, inverter.D.Vpv3, inverter.D.Vpv4} {
		if v != 0 && v < 6553 {
			sum += v
		}
	}
	return math.Round(sum*10) / 10
}

// GetLocation returns the station's registered coordinates.
func (c *Client) GetLocation() (lat, lon *float64, err error) {
	payload := url.Values{"powerStationId": {c.stationId}}
	raw, err := c.call("v2/PowerStation/GetMonitorDetailByPowerstationId", payload)
	if err != nil {
		return nil, nil, err
	}
	var detail monitorDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, nil, fmt.Errorf("bad monitor detail payload: %w", err)
	}
	return detail.Info.Latitude, detail.Info.Longitude, nil
}

// GetDayReadings reconstructs the per-sample energy trace for one past
// day from the portal's power and load chart series, reconciled against
// the authoritative daily consumption figure.
func (c *Client) GetDayReadings(date time.Time) ([]types.Reading, error) {
	pacs, err := c.getDayPac(date)
	if err != nil {
		return nil, err
	}
	loads, err := c.getDayLoad(date)
	if err != nil {
		return nil, err
	}

	n := len(pacs)
	if len(loads) < n {
		log.Warnf("Load series shorter than power series (%d < %d), truncating", len(loads), n)
		n = len(loads)
	}

	loc := c.now().Location()
	samples := make([]daytrace.Sample, 0, n)
	for i := 0; i < n; i++ {
		at, err := time.ParseInLocation(pacDateLayout, pacs[i].Date, loc)
		if err != nil {
			return nil, fmt.Errorf("bad sample date %q: %w", pacs[i].Date, err)
		}
		samples = append(samples, daytrace.Sample{Time: at, PowerW: pacs[i].Pac, LoadW: loads[i].Y})
	}

	actual, err := c.GetActualConsumption(date)
	if err != nil {
		log.Warnf("No authoritative consumption figure for %s: %v", date.Format("2006-01-02"), err)
		actual = 0
	}

	return daytrace.Build(samples, actual)
}

// GetActualKwh returns the portal's authoritative generation total for
// the given day.
func (c *Client) GetActualKwh(date time.Time) (float64, error) {
	payload := url.Values{
		"powerstation_id": {c.stationId},
		"count":           {"1"},
		"date":            {date.Format("2006-01-02")},
	}
	raw, err := c.call("v2/PowerStationMonitor/GetPowerStationPowerAndIncomeByDay", payload)
	if err != nil {
		return 0, err
	}

	var days []struct {
		D string  `json:"d"`
		P float64 `json:"p"`
	}
	if err := json.Unmarshal(raw, &days); err != nil {
		return 0, fmt.Errorf("bad power-and-income payload: %w", err)
	}

	want := date.Format("01/02/2006")
	for _, day := range days {
		if day.D == want {
			return day.P, nil
		}
	}
	log.Warnf("GetPowerStationPowerAndIncomeByDay has no entry for %s", want)
	return 0, nil
}

// GetActualConsumption returns the authoritative total daily consumption
// for the given day.
func (c *Client) GetActualConsumption(date time.Time) (float64, error) {
	raw, err := c.chartByPlant(date, "7")
	if err != nil {
		return 0, err
	}

	var chart struct {
		ModelData struct {
			ConsumptionOfLoad float64 `json:"consumptionOfLoad"`
		} `json:"modelData"`
	}
	if err := json.Unmarshal(raw, &chart); err != nil {
		return 0, fmt.Errorf("bad chart payload: %w", err)
	}
	return chart.ModelData.ConsumptionOfLoad, nil
}

func (c *Client) getDayPac(date time.Time) ([]pacSample, error) {
	payload := url.Values{
		"id":   {c.stationId},
		"date": {date.Format("2006-01-02")},
	}
	raw, err := c.call("v2/PowerStationMonitor/GetPowerStationPacByDayForApp", payload)
	if err != nil {
		return nil, err
	}

	var data struct {
		Pacs []pacSample `json:"pacs"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("bad pac payload: %w", err)
	}
	return data.Pacs, nil
}

func (c *Client) getDayLoad(date time.Time) ([]xyPoint, error) {
	raw, err := c.chartByPlant(date, "1")
	if err != nil {
		return nil, err
	}

	var chart struct {
		Lines []struct {
			Xy []xyPoint `json:"xy"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(raw, &chart); err != nil {
		return nil, fmt.Errorf("bad chart payload: %w", err)
	}
	if len(chart.Lines) < 4 {
		return nil, fmt.Errorf("chart payload has %d lines, want at least 4", len(chart.Lines))
	}
	return chart.Lines[3].Xy, nil
}

func (c *Client) chartByPlant(date time.Time, chartIndexId string) (json.RawMessage, error) {
	payload := url.Values{
		"id":           {c.stationId},
		"date":         {date.Format("2006-01-02")},
		"range":        {"2"},
		"chartIndexId": {chartIndexId},
		"isDetailFull": {""},
	}
	return c.call("v2/Charts/GetChartByPlant", payload)
}

// call posts a keyed request to the portal with bounded retries. A
// session-expired code triggers the login exchange at most once per call;
// transport failures back off cubically between the 3 attempts.
func (c *Client) call(path string, payload url.Values) (json.RawMessage, error) {
	relogged := false
	var lastErr error

	for attempt := 1; attempt <= 3; attempt++ {
		env, err := c.post(c.baseURL+path, payload)
		if err != nil {
			lastErr = err
			log.Warnf("SEMS API call failed (attempt %d/3): %v", attempt, err)
		} else {
			code, cerr := env.code()
			if cerr != nil {
				return nil, fmt.Errorf("failed to call SEMS API: %w", cerr)
			}
			switch {
			case code == 0 && len(env.Data) > 0 && string(env.Data) != "null":
				return env.Data, nil
			case code == codeSessionExpired:
				if relogged {
					return nil, fmt.Errorf("SEMS session rejected again after re-login")
				}
				if err := c.login(); err != nil {
					return nil, err
				}
				relogged = true
				lastErr = fmt.Errorf("session expired")
			default:
				return nil, fmt.Errorf("failed to call SEMS API (code %d)", code)
			}
		}

		if attempt < 3 {
			c.sleep(time.Duration(attempt*attempt*attempt) * time.Second)
		}
	}

	return nil, errors.Join(ErrSourceUnavailable, lastErr)
}

// login performs the CrossLogin exchange against the global endpoint and
// installs the returned regional base URL and session token.
func (c *Client) login() error {
	payload := url.Values{
		"account": {c.account},
		"pwd":     {c.password},
	}
	env, err := c.post(c.globalURL+"v2/Common/CrossLogin", payload)
	if err != nil {
		return fmt.Errorf("SEMS login failed: %w", err)
	}
	if env.Api == "" {
		return fmt.Errorf("SEMS login rejected: %s", env.Msg)
	}

	c.baseURL = env.Api
	c.token = string(env.Data)
	log.Debugf("SEMS login ok, base URL %s", c.baseURL)
	return nil
}

func (c *Client) post(endpoint string, payload url.Values) (*envelope, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("SEMS API returned status %s", resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("bad SEMS response: %w", err)
	}
	return &env, nil
}
