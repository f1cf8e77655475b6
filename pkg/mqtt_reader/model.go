package mqtt_reader

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// SnapshotReader grabs the latest inverter telemetry republished on an
// MQTT topic hierarchy. Leaf readings live at path segment index 2
// (topic/<device>/<field>). The broker pushes messages on a
// library-managed goroutine, so the accumulated field map is guarded by
// a mutex.
type SnapshotReader struct {
	host     string
	port     int
	user     string
	password string
	topic    string

	fieldsMutex sync.Mutex
	fields      map[string]string

	// Swappable for tests
	newClient func(opts *mqtt.ClientOptions) mqtt.Client
	sleep     func(time.Duration)
	now       func() time.Time
}

// Every field the canonical reading needs; a cycle is fatal when any of
// these never arrives within the observation window.
var requiredFields = []string{
	"work_mode_label",
	"ppv",
	"vgrid",
	"vpv1",
	"house_consumption",
	"v1",
	"e_total",
	"battery_soc",
	"v3",
}
