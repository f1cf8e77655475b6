package goodwe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarpush/solarpush/pkg/types"
)

func testClient(srvURL string) *Client {
	c := NewClient("station-1", "user@example.com", "secret")
	c.globalURL = srvURL + "/"
	c.baseURL = srvURL + "/"
	c.sleep = func(time.Duration) {}
	c.now = func() time.Time { return time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func okEnvelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{"code": 0, "data": data}
}

func TestAggregate_NormalSubsetAveragesVoltage(t *testing.T) {
	detail := &monitorDetail{}
	detail.Powerflow.Load = "400(W)"
	detail.Powerflow.Soc = "80"
	detail.EnergyStatistics.ConsumptionOfLoad = 6.789
	detail.Inverter = []inverterDetail{
		{Status: 1, OutPac: 1000, OutputVoltage: "230.0V", Eday: 5, Etotal: 100},
		{Status: 1, OutPac: 2000, OutputVoltage: "240.0V", Eday: 6, Etotal: 200},
		{Status: -1, OutPac: 999, OutputVoltage: "250.0V", Eday: 1, Etotal: 50},
	}

	r := aggregate(detail, time.Now())

	assert.Equal(t, types.StatusNormal, r.Status)
	// Power and load summed over the two Normal inverters only.
	assert.Equal(t, 3000.0, r.PowerW)
	assert.Equal(t, 800.0, r.LoadW)
	// Voltage is the arithmetic mean of exactly the Normal inverters.
	assert.Equal(t, 235.0, r.GridVoltageV)
	assert.Equal(t, 80.0, r.SocPct)
	// Energy counters summed across all inverters regardless of state.
	assert.Equal(t, 12.0, r.EnergyTodayKwh)
	assert.Equal(t, 350.0, r.EnergyTotalKwh)
	assert.Equal(t, 6.79, r.EnergyUsedKwh)
}

func TestAggregate_NoNormalInvertersFallsBackToFirst(t *testing.T) {
	detail := &monitorDetail{}
	detail.Powerflow.Load = "150(W)"
	detail.Inverter = []inverterDetail{
		{Status: -1, OutPac: 12, OutputVoltage: "231.5V", Eday: 1.5, Etotal: 10},
		{Status: 2, OutPac: 99, OutputVoltage: "232.5V", Eday: 2.5, Etotal: 20},
	}

	r := aggregate(detail, time.Now())

	// First inverter's raw values verbatim.
	assert.Equal(t, types.StatusOffline, r.Status)
	assert.Equal(t, 12.0, r.PowerW)
	assert.Equal(t, 231.5, r.GridVoltageV)
	assert.Equal(t, 150.0, r.LoadW)
	// Counters still summed across all inverters.
	assert.Equal(t, 4.0, r.EnergyTodayKwh)
	assert.Equal(t, 30.0, r.EnergyTotalKwh)
}

func TestPvVoltage_IgnoresOverflowStrings(t *testing.T) {
	inv := &inverterDetail{}
	inv.D.Vpv1 = 250.1
	inv.D.Vpv2 = 250.2
	inv.D.Vpv3 = 6553.5 // overflow sentinel
	inv.D.Vpv4 = 0      // absent string

	assert.Equal(t, 500.3, pvVoltage(inv))
}

func TestCall_ReauthenticatesOnceOnSessionExpiry(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path+"|"+r.Header.Get("Token"))
		switch r.URL.Path {
		case "/v2/Common/CrossLogin":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"api":  "http://" + r.Host + "/region/",
				"data": map[string]string{"token": "fresh"},
			})
		case "/test", "/region/test":
			if r.Header.Get("Token") == defaultToken {
				json.NewEncoder(w).Encode(map[string]interface{}{"code": 100001})
				return
			}
			json.NewEncoder(w).Encode(okEnvelope(map[string]string{"hello": "world"}))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	raw, err := c.call("test", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(raw))

	// Original call, login exchange, retried call against the new base URL.
	require.Len(t, calls, 3)
	assert.Contains(t, calls[1], "/v2/Common/CrossLogin")
	assert.Contains(t, calls[2], "/region/test")
	assert.Contains(t, calls[2], `{"token":"fresh"}`)
}

func TestCall_SessionRejectedTwiceFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/Common/CrossLogin" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"api":  "http://" + r.Host + "/",
				"data": map[string]string{"token": "fresh"},
			})
			return
		}
		// Keep claiming the session is expired
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 100001})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.call("test", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "re-login")
}

func TestCall_UnexpectedCodeFailsImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 42})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.call("test", nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCall_TransportFailuresExhaustRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := testClient(srv.URL)
	c.sleep = func(d time.Duration) { delays = append(delays, d) }

	_, err := c.call("test", nil)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{1 * time.Second, 8 * time.Second}, delays)
}

func TestFetchCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/PowerStation/GetMonitorDetailByPowerstationId", r.URL.Path)
		r.ParseForm()
		require.Equal(t, "station-1", r.PostFormValue("powerStationId"))
		json.NewEncoder(w).Encode(okEnvelope(map[string]interface{}{
			"info": map[string]float64{"latitude": 52.1, "longitude": 4.9},
			"inverter": []map[string]interface{}{
				{
					"status": 1, "out_pac": 1234.0, "output_voltage": "233.1V",
					"eday": 7.5, "etotal": 4321.0,
					"d": map[string]float64{"vpv1": 250, "vpv2": 245},
				},
			},
			"powerflow":              map[string]string{"load": "560(W)", "soc": "64"},
			"energeStatisticsCharts": map[string]float64{"consumptionOfLoad": 8.125},
		}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	reading, err := c.FetchCurrent()
	require.NoError(t, err)

	assert.Equal(t, types.StatusNormal, reading.Status)
	assert.Equal(t, 1234.0, reading.PowerW)
	assert.Equal(t, 233.1, reading.GridVoltageV)
	assert.Equal(t, 495.0, reading.PvVoltageV)
	assert.Equal(t, 560.0, reading.LoadW)
	assert.Equal(t, 7.5, reading.EnergyTodayKwh)
	assert.Equal(t, 8.13, reading.EnergyUsedKwh)
	assert.Equal(t, 64.0, reading.SocPct)
	require.True(t, reading.HasLocation())
	assert.Equal(t, 52.1, *reading.Latitude)
}

func TestGetDayReadings(t *testing.T) {
	day := time.Date(2023, 5, 30, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.URL.Path {
		case "/v2/PowerStationMonitor/GetPowerStationPacByDayForApp":
			json.NewEncoder(w).Encode(okEnvelope(map[string]interface{}{
				"pacs": []map[string]interface{}{
					{"date": "05/30/2023 10:00:00", "pac": 100.0},
					{"date": "05/30/2023 11:00:00", "pac": 200.0},
				},
			}))
		case "/v2/Charts/GetChartByPlant":
			if r.PostFormValue("chartIndexId") == "7" {
				json.NewEncoder(w).Encode(okEnvelope(map[string]interface{}{
					"modelData": map[string]float64{"consumptionOfLoad": 0.06},
				}))
				return
			}
			json.NewEncoder(w).Encode(okEnvelope(map[string]interface{}{
				"lines": []map[string]interface{}{
					{"xy": []interface{}{}}, {"xy": []interface{}{}}, {"xy": []interface{}{}},
					{"xy": []map[string]interface{}{
						{"x": "10:00", "y": 50.0},
						{"x": "11:00", "y": 150.0},
					}},
				},
			}))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	entries, err := c.GetDayReadings(day)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 0.1, entries[1].EnergyTodayKwh)
	assert.InDelta(t, 0.06, entries[1].EnergyUsedKwh, 1e-9)
	assert.Equal(t, time.Date(2023, 5, 30, 11, 0, 0, 0, time.UTC), entries[1].Timestamp)
}

func TestGetActualKwh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(okEnvelope([]map[string]interface{}{
			{"d": "05/29/2023", "p": 11.1},
			{"d": "05/30/2023", "p": 12.5},
		}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	kwh, err := c.GetActualKwh(time.Date(2023, 5, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 12.5, kwh)

	// Missing day yields zero, not an error.
	kwh, err = c.GetActualKwh(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0.0, kwh)
}

func TestCall_NoCodeInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"not-a-number"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.call("test", nil)
	assert.Error(t, err)
}

func TestCall_AcceptsStringTypedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"0","data":{"ok":true}}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	data, err := c.call("test", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}
