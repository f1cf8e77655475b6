package goodwe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to the SEMS portal. The session starts unauthenticated
// with the portal's bootstrap token; a sentinel response code triggers a
// login exchange that swaps in a new base URL and session token.
type Client struct {
	stationId string
	account   string
	password  string

	token     string
	globalURL string
	baseURL   string

	httpClient *http.Client
	sleep      func(time.Duration)
	now        func() time.Time
}

// envelope is the keyed JSON wrapper around every SEMS response.
type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
	Api  string          `json:"api"`
}

// code parses the result code, which the portal serves both as a bare
// number and as a quoted string.
func (e *envelope) code() (int64, error) {
	raw := strings.Trim(string(e.Code), `"`)
	if raw == "" || raw == "null" {
		return 0, fmt.Errorf("response carries no result code")
	}
	return strconv.ParseInt(raw, 10, 64)
}

type inverterDetail struct {
	Status        int     `json:"status"`
	OutPac        float64 `json:"out_pac"`
	OutputVoltage string  `json:"output_voltage"`
	Eday          float64 `json:"eday"`
	Etotal        float64 `json:"etotal"`
	InvertFull    struct {
		Buy    float64 `json:"buy"`
		Seller float64 `json:"seller"`
	} `json:"invert_full"`
	D struct {
		Vpv1 float64 `json:"vpv1"`
		Vpv2 float64 `json:"vpv2"`
		Vpv3 float64 `json:"vpv3"`
		Vpv4 float64 `json:"vpv4"`
	} `json:"d"`
}

type monitorDetail struct {
	Info struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"info"`
	Inverter  []inverterDetail `json:"inverter"`
	Powerflow struct {
		Load string `json:"load"`
		Soc  string `json:"soc"`
	} `json:"powerflow"`
	EnergyStatistics struct {
		ConsumptionOfLoad float64 `json:"consumptionOfLoad"`
	} `json:"energeStatisticsCharts"`
}

type pacSample struct {
	Date string  `json:"date"`
	Pac  float64 `json:"pac"`
}

type xyPoint struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}
