// Broker snapshot source: subscribes to an inverter telemetry topic and
// collects the most recent value per leaf field over a bounded window.
package mqtt_reader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	probing "github.com/prometheus-community/pro-bing"
	log "github.com/sirupsen/logrus"

	"github.com/solarpush/solarpush/pkg/types"
)

var (
	ErrBrokerUnavailable = fmt.Errorf("MQTT broker unavailable")
	ErrIncompleteData    = fmt.Errorf("required inverter fields never arrived")
)

const (
	connectTimeout = 10 * time.Second
	pollInterval   = 5 * time.Second
	pollAttempts   = 5
)

func NewSnapshotReader(host string, port int, user, password, topic string) *SnapshotReader {
	return &SnapshotReader{
		host:      host,
		port:      port,
		user:      user,
		password:  password,
		topic:     topic,
		fields:    make(map[string]string),
		newClient: mqtt.NewClient,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// FetchCurrent connects to the broker, waits for every required field to
// arrive and normalizes the accumulated snapshot into one reading.
func (s *SnapshotReader) FetchCurrent() (*types.Reading, error) {
	if ok, rtt, err := ping(s.host); ok {
		log.Debugf("Broker %s reachable (rtt %v)", s.host, rtt)
	} else {
		// Advisory only; brokers may well sit behind ICMP filters.
		log.Warnf("Broker %s did not answer ping: %v", s.host, err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", s.host, s.port)).
		SetClientID("solarpush").
		SetUsername(s.user).
		SetPassword(s.password).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(client mqtt.Client) {
			log.Infof("Grabbing latest inverter data from topic: %s", s.topic)
			client.Subscribe(s.topic+"/#", 0, s.handleMessage)
		})

	client := s.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, token.Error())
	}
	defer client.Disconnect(250)

	missing := s.missingFields()
	for attempt := 1; attempt <= pollAttempts && len(missing) > 0; attempt++ {
		log.Debugf("Waiting for inverter fields (attempt %d/%d), missing: %s",
			attempt, pollAttempts, strings.Join(missing, ", "))
		s.sleep(pollInterval)
		missing = s.missingFields()
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrIncompleteData, strings.Join(missing, ", "))
	}

	return s.normalize(s.snapshot()), nil
}

// handleMessage runs on the MQTT library's goroutine.
func (s *SnapshotReader) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	path := strings.Split(msg.Topic(), "/")
	if len(path) < 3 || path[0] != s.topic {
		return
	}

	s.fieldsMutex.Lock()
	s.fields[path[2]] = string(msg.Payload())
	s.fieldsMutex.Unlock()
}

func (s *SnapshotReader) snapshot() map[string]string {
	s.fieldsMutex.Lock()
	defer s.fieldsMutex.Unlock()

	copied := make(map[string]string, len(s.fields))
	for k, v := range s.fields {
		copied[k] = v
	}
	return copied
}

func (s *SnapshotReader) missingFields() []string {
	s.fieldsMutex.Lock()
	defer s.fieldsMutex.Unlock()

	var missing []string
	for _, field := range requiredFields {
		if _, ok := s.fields[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// normalize maps the broker's field names onto the canonical reading.
func (s *SnapshotReader) normalize(fields map[string]string) *types.Reading {
	reading := &types.Reading{
		Timestamp:      s.now(),
		Status:         types.StatusFromLabel(fields["work_mode_label"]),
		PowerW:         parseFloat(fields, "ppv"),
		GridVoltageV:   parseFloat(fields, "vgrid"),
		PvVoltageV:     parseFloat(fields, "vpv1"),
		LoadW:          parseFloat(fields, "house_consumption"),
		EnergyTodayKwh: parseFloat(fields, "v1"),
		EnergyTotalKwh: parseFloat(fields, "e_total"),
		SocPct:         parseFloat(fields, "battery_soc"),
		EnergyUsedKwh:  parseFloat(fields, "v3"),
	}

	// Some bridges publish ambient temperature alongside the inverter data.
	if raw, ok := fields["v5"]; ok {
		if temp, err := strconv.ParseFloat(raw, 64); err == nil {
			reading.TemperatureC = &temp
		}
	}

	return reading
}

func parseFloat(fields map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(fields[key], 64)
	if err != nil {
		log.Warnf("Unparseable value for %s: %q", key, fields[key])
		return 0
	}
	return v
}

func ping(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	err = pinger.Run()
	if err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}

	return false, 0, fmt.Errorf("no response")
}
