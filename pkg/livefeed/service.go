// Package livefeed exposes the most recent reading over HTTP and
// pushes every new reading to connected websocket clients.
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/solarpush/solarpush/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local monitoring endpoint, not exposed publicly
	},
}

type Hub struct {
	clients      map[*websocket.Conn]bool
	clientsMutex sync.RWMutex

	latest      *types.Reading
	latestMutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
	}
}

// Start serves the feed on the given address. It blocks, run it in a
// goroutine.
func (h *Hub) Start(listenAddress string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"message": "solarpush live feed",
			"status":  "running",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("/latest", h.handleLatest)
	mux.HandleFunc("/ws", h.handleWebSocket)

	log.Infof("Starting live feed on %s", listenAddress)
	return http.ListenAndServe(listenAddress, mux)
}

// Broadcast records the reading as latest and pushes it to every
// connected client. Clients that fail to take the write are dropped.
func (h *Hub) Broadcast(reading *types.Reading) {
	h.latestMutex.Lock()
	h.latest = reading
	h.latestMutex.Unlock()

	payload, err := json.Marshal(reading)
	if err != nil {
		log.Warnf("Failed to encode reading for broadcast: %v", err)
		return
	}

	h.clientsMutex.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMutex.RUnlock()

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.removeClient(client)
		}
	}
}

// Latest returns the most recently broadcast reading, or nil before
// the first one.
func (h *Hub) Latest() *types.Reading {
	h.latestMutex.RLock()
	defer h.latestMutex.RUnlock()
	return h.latest
}

// ClientCount reports the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading := h.Latest()
	w.Header().Set("Content-Type", "application/json")
	if reading == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "No readings available yet",
		})
		return
	}

	json.NewEncoder(w).Encode(reading)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	h.addClient(conn)

	// Send current reading immediately if available
	if reading := h.Latest(); reading != nil {
		if payload, err := json.Marshal(reading); err == nil {
			conn.WriteMessage(websocket.TextMessage, payload)
		}
	}

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			h.removeClient(conn)
			break
		}
	}
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	h.clients[conn] = true
	h.clientsMutex.Unlock()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	delete(h.clients, conn)
	h.clientsMutex.Unlock()
	conn.Close()
}
