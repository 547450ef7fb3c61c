package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one message pushed to dashboard subscribers.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Event types pushed over the live feed.
const (
	EventSweepCompleted    = "sweep_completed"
	EventEscalationsFired  = "escalations_fired"
	EventBreachesDetected  = "breaches_detected"
	EventChainAcknowledged = "chain_acknowledged"
	EventChainResolved     = "chain_resolved"
)

const (
	wsWriteWait      = 10 * time.Second
	wsSendBufferSize = 16
)

// EventsHub broadcasts engine events to connected websocket clients. A
// client that cannot keep up is dropped rather than blocking the
// broadcast.
type EventsHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// NewEventsHub creates the hub.
func NewEventsHub() *EventsHub {
	return &EventsHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser dashboards connect cross-origin; auth happens at
			// the HTTP layer before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// HandleWS upgrades the connection and streams events until the client
// disconnects.
func (h *EventsHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("EventsHub: upgrade failed: %v", err)
		return
	}

	send := make(chan Event, wsSendBufferSize)
	h.mu.Lock()
	h.clients[conn] = send
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("EventsHub: client connected (%d total)", count)

	go h.writeLoop(conn, send)
	h.readLoop(conn)
}

// Broadcast queues the event for every connected client.
func (h *EventsHub) Broadcast(eventType string, payload interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- event:
		default:
			// Slow consumer: close and let the loops clean up.
			delete(h.clients, conn)
			close(send)
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *EventsHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventsHub) writeLoop(conn *websocket.Conn, send chan Event) {
	for event := range send {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("EventsHub: marshal failed: %v", err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	conn.Close()
}

// readLoop drains client frames so pings and close messages are handled;
// the feed is one-way.
func (h *EventsHub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()
	conn.Close()
}
