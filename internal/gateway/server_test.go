package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/config"
)

func newTestServer(t *testing.T) (*Server, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	b := bus.New()
	s := NewServer(config.Default(), b, nil)
	ts := httptest.NewServer(s.BuildMux())
	t.Cleanup(ts.Close)
	return s, b, ts
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["agora"] != "https://anagora.org" {
		t.Errorf("status = %v", status)
	}
}

func TestDisconnectLeavesInFlightBroadcastSafe(t *testing.T) {
	b := bus.New()
	s := NewServer(config.Default(), b, nil)

	c := &wsClient{
		id:   "c1",
		send: make(chan bus.Event, 4),
		done: make(chan struct{}),
	}
	s.registerClient(c)
	s.unregisterClient(c)

	// A broadcast that snapshotted the handler before Unsubscribe can still
	// deliver after disconnect; this must not panic.
	c.send <- bus.Event{Name: bus.EventReplied}

	select {
	case <-c.done:
	default:
		t.Error("done not closed on unregister")
	}
}

func TestWebSocketEventFeed(t *testing.T) {
	_, b, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered inside the HTTP handler; give it a
	// moment before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.Broadcast(bus.Event{Name: bus.EventReplied, Payload: map[string]any{"run_id": "r1"}})

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var event bus.Event
		if err := conn.ReadJSON(&event); err == nil {
			if event.Name != bus.EventReplied {
				t.Fatalf("event = %+v", event)
			}
			return
		}
	}
	t.Fatal("no event received over websocket")
}
