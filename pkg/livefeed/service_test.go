package livefeed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarpush/solarpush/pkg/types"
)

func testReading(powerW float64) *types.Reading {
	return &types.Reading{
		Timestamp:      time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:         types.StatusNormal,
		PowerW:         powerW,
		EnergyTodayKwh: 3.2,
	}
}

func TestHandleLatest_NoReadingYet(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.handleLatest(rec, httptest.NewRequest(http.MethodGet, "/latest", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLatest_ReturnsBroadcastReading(t *testing.T) {
	hub := NewHub()
	hub.Broadcast(testReading(1234))

	rec := httptest.NewRecorder()
	hub.handleLatest(rec, httptest.NewRequest(http.MethodGet, "/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got types.Reading
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 1234.0, got.PowerW)
	assert.Equal(t, 3.2, got.EnergyTodayKwh)
}

func TestWebSocket_ReceivesBroadcasts(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.handleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the client registration
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, hub.ClientCount())

	hub.Broadcast(testReading(900))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got types.Reading
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, 900.0, got.PowerW)
}

func TestWebSocket_NewClientGetsLatestImmediately(t *testing.T) {
	hub := NewHub()
	hub.Broadcast(testReading(555))

	srv := httptest.NewServer(http.HandlerFunc(hub.handleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got types.Reading
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, 555.0, got.PowerW)
}

func TestBroadcast_DropsDeadClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.handleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, hub.ClientCount())

	conn.Close()

	// Writes to the closed connection eventually fail and evict it.
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() > 0 && time.Now().Before(deadline) {
		hub.Broadcast(testReading(1))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.ClientCount())
}
