// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (the mqtt_tap transport
// and the protocol scheduler) to subscribers (the debugws trace
// server, the tracedoc renderer). The dispatcher-source kinds below are
// defined, but engine.Dispatcher has no bus and publishes none of
// them. The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceDispatcher identifies dispatcher events. No component in
	// this module publishes under it.
	SourceDispatcher = "dispatcher"
	// SourceTransport identifies events from the active opaque event
	// transport (the local HCI device or the mqtt_tap bridge).
	SourceTransport = "transport"
	// SourceProtoSched identifies events from the protocol scheduler.
	SourceProtoSched = "protosched"
)

// Kind constants describe the type of event within a source.
const (
	// KindProtocolStarted signals SetCurrentProtocol was called.
	// Data: protocol.
	KindProtocolStarted = "protocol_started"
	// KindProtocolCleared signals ClearCurrentProtocol was called, or a
	// protocol body/perform failure aborted the running protocol.
	// Data: protocol, reason.
	KindProtocolCleared = "protocol_cleared"
	// KindProductionDone signals a production reached Done.
	// Data: protocol, rule_matched.
	KindProductionDone = "production_done"
	// KindRuleMatched signals a single rule fired during dispatch.
	// Data: protocol, set (normal/exclusive/global), check_kind, code.
	KindRuleMatched = "rule_matched"
	// KindPerformFailed signals a production's Perform callback
	// returned false.
	// Data: protocol.
	KindPerformFailed = "perform_failed"

	// KindPacketReceived signals a raw packet arrived from the active
	// transport, before it reaches the Dispatcher.
	// Data: type, code, length.
	KindPacketReceived = "packet_received"
	// KindTransportConnected signals the transport's underlying
	// connection (device open, MQTT connection-up) succeeded.
	KindTransportConnected = "transport_connected"
	// KindTransportDown signals the transport's underlying connection
	// was lost.
	KindTransportDown = "transport_down"

	// KindTaskFired signals a scheduled protocol re-trigger fired.
	// Data: task_id, protocol.
	KindTaskFired = "task_fired"
	// KindTaskComplete signals a scheduled protocol run finished.
	// Data: task_id, protocol, ok, duration_ms.
	KindTaskComplete = "task_complete"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
