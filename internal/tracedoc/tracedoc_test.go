package tracedoc

import (
	"strings"
	"testing"
	"time"

	"github.com/dohiam/ble-protocol-runtime/internal/events"
)

func TestRender_IncludesEveryEventGroupedBySource(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trace := []events.Event{
		{Timestamp: base.Add(2 * time.Second), Source: events.SourceDispatcher, Kind: events.KindProtocolStarted, Data: map[string]any{"protocol": "gattwalk"}},
		{Timestamp: base.Add(1 * time.Second), Source: events.SourceTransport, Kind: events.KindPacketReceived, Data: map[string]any{"type": 4}},
		{Timestamp: base, Source: events.SourceDispatcher, Kind: events.KindRuleMatched},
	}

	html, err := Render("test run", trace)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{"test run", string(events.SourceDispatcher), string(events.SourceTransport),
		events.KindProtocolStarted, events.KindPacketReceived, events.KindRuleMatched, "protocol=gattwalk"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected rendered HTML to contain %q, got:\n%s", want, html)
		}
	}
}

func TestRender_EmptyTraceStillProducesValidDocument(t *testing.T) {
	html, err := Render("empty run", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(html, "0 events across 0 sources") {
		t.Errorf("expected an explicit zero-event summary, got:\n%s", html)
	}
}
