package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestEventsHub_Broadcast(t *testing.T) {
	hub := NewEventsHub()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/events", hub.HandleWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialHub(t, server)
	defer conn.Close()

	// Wait for the registration to land before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}

	hub.Broadcast(EventBreachesDetected, map[string]int{"new_breaches": 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != EventBreachesDetected {
		t.Errorf("type = %s, want %s", event.Type, EventBreachesDetected)
	}
}

func TestEventsHub_DisconnectCleansUp(t *testing.T) {
	hub := NewEventsHub()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/events", hub.HandleWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialHub(t, server)
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("clients = %d after disconnect, want 0", hub.ClientCount())
	}
}
