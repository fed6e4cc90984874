package protosched

import (
	"testing"
	"time"

	"github.com/dohiam/ble-protocol-runtime/internal/clock"
	"github.com/dohiam/ble-protocol-runtime/internal/engine"
	"github.com/dohiam/ble-protocol-runtime/internal/events"
)

// oneShotProtocol configures a single-shot production on entry, then
// force-aborts — a minimal stand-in for a real example protocol.
func oneShotProtocol(name string, ran *int) *engine.Protocol {
	return &engine.Protocol{
		Name: name,
		Run: func(step *engine.Step, e *engine.ProductionEngine) bool {
			if step.At() {
				*ran++
				step.Advance(true)
				return true
			}
			step.Reset()
			return false
		},
	}
}

func TestTriggerNow_StartsProtocolAndPublishesEvents(t *testing.T) {
	d := engine.NewDispatcher(0, clock.NewFake(0), nil)
	bus := events.New()
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	var ran int
	s := New(d, bus, nil)
	task := Task{Name: "poll", Every: time.Hour, Protocol: oneShotProtocol("poll-proto", &ran)}

	s.TriggerNow(task)

	if ran != 1 {
		t.Fatalf("expected the protocol body to run once, got %d", ran)
	}
	if !d.IsRunning() {
		t.Fatal("expected the dispatcher to be running the triggered protocol")
	}

	var kinds []string
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub:
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published events")
		}
	}
	if len(kinds) != 2 || kinds[0] != events.KindTaskFired || kinds[1] != events.KindTaskComplete {
		t.Fatalf("expected task_fired then task_complete, got %v", kinds)
	}
}

func TestTriggerNow_SkipsWhenAlreadyRunning(t *testing.T) {
	d := engine.NewDispatcher(0, clock.NewFake(0), nil)
	bus := events.New()

	var firstRan, secondRan int
	first := Task{Name: "first", Every: time.Hour, Protocol: oneShotProtocol("first-proto", &firstRan)}
	second := Task{Name: "second", Every: time.Hour, Protocol: oneShotProtocol("second-proto", &secondRan)}

	s := New(d, bus, nil)
	s.TriggerNow(first)
	if !d.IsRunning() {
		t.Fatal("expected first task's protocol to be running")
	}

	s.TriggerNow(second)
	if secondRan != 0 {
		t.Fatal("expected second task to be skipped while a protocol is already running")
	}
	if d.Get().Name != "first-proto" {
		t.Fatalf("expected the first protocol to still be current, got %q", d.Get().Name)
	}
}

func TestStartAndStop_CancelsPendingTimers(t *testing.T) {
	d := engine.NewDispatcher(0, clock.NewFake(0), nil)
	var ran int
	s := New(d, nil, nil)

	task := Task{Name: "periodic", Every: 10 * time.Millisecond, Protocol: oneShotProtocol("periodic-proto", &ran)}
	s.Start([]Task{task})
	s.Stop()

	time.Sleep(30 * time.Millisecond)
	if ran != 0 {
		t.Fatalf("expected Stop to cancel the pending timer before it fired, got ran=%d", ran)
	}
}
