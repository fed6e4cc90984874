package debugws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dohiam/ble-protocol-runtime/internal/config"
	"github.com/dohiam/ble-protocol-runtime/internal/events"
)

func TestServer_StreamsPublishedEvents(t *testing.T) {
	bus := events.New()
	srv := New(config.DebugWSConfig{}, bus, nil)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	wsURL := "ws" + ts.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine time to register the subscription and
	// this client's connection before publishing.
	time.Sleep(50 * time.Millisecond)

	bus.Publish(events.Event{Source: events.SourceDispatcher, Kind: events.KindProtocolStarted,
		Data: map[string]any{"protocol": "gattwalk"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !strings.Contains(string(payload), "protocol_started") {
		t.Fatalf("expected a protocol_started event, got %s", payload)
	}
}

func TestServer_TraceEndpointRendersRecentEvents(t *testing.T) {
	bus := events.New()
	srv := New(config.DebugWSConfig{}, bus, nil)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.Event{Source: events.SourceDispatcher, Kind: events.KindRuleMatched})
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(ts.URL + "/trace")
	if err != nil {
		t.Fatalf("GET /trace: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), events.KindRuleMatched) {
		t.Fatalf("expected the trace report to include the published event, got:\n%s", body)
	}
}
