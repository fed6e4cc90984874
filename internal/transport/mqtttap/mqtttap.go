// Package mqtttap is the optional "MQTT bridge" opaque event transport
// named in spec.md §1/§6: for hosts with no local HCI controller, it
// receives HCI event frames relayed from a remote controller over
// MQTT and forwards outbound commands the same way. It is adapted
// from the teacher's internal/mqtt.Publisher connection-management
// pattern (autopaho ClientConfig, OnConnectionUp/OnConnectError, a
// rate limiter on the inbound hot path) with the Home-Assistant
// discovery/sensor-publishing half dropped entirely — this package
// only ever carries opaque HCI packets, never sensor state.
package mqtttap

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/dohiam/ble-protocol-runtime/internal/buildinfo"
	"github.com/dohiam/ble-protocol-runtime/internal/config"
	"github.com/dohiam/ble-protocol-runtime/internal/events"
	"github.com/dohiam/ble-protocol-runtime/internal/hci"
)

// wirePacket is the JSON-on-the-wire form of an hci.Packet. Payload is
// hex-encoded rather than base64 to keep traces human-readable when
// inspected with a plain MQTT client.
type wirePacket struct {
	Type    byte   `json:"type"`
	Code    byte   `json:"code"`
	Payload string `json:"payload"`
}

func encodePacket(p hci.Packet) ([]byte, error) {
	return json.Marshal(wirePacket{Type: p.Type, Code: p.Code, Payload: hex.EncodeToString(p.Payload)})
}

func decodePacket(raw []byte) (hci.Packet, error) {
	var w wirePacket
	if err := json.Unmarshal(raw, &w); err != nil {
		return hci.Packet{}, fmt.Errorf("mqtttap: decode packet: %w", err)
	}
	payload, err := hex.DecodeString(w.Payload)
	if err != nil {
		return hci.Packet{}, fmt.Errorf("mqtttap: decode payload hex: %w", err)
	}
	return hci.Packet{Type: w.Type, Code: w.Code, Payload: payload}, nil
}

// PacketHandler is called for each decoded inbound packet. Like
// internal/mqtt.MessageHandler, implementations must be safe for
// concurrent use — the handler runs on the paho receive goroutine, not
// the single-threaded dispatcher loop, so callers must hop onto their
// own event loop before calling Dispatcher.OnEvent.
type PacketHandler func(hci.Packet)

// rateLimiter drops inbound packets once the configured per-minute
// limit is exceeded, identical in shape to internal/mqtt's
// messageRateLimiter.
type rateLimiter struct {
	count   atomic.Int64
	dropped atomic.Int64
	limit   int64
	log     *slog.Logger
}

func newRateLimiter(limit int64, log *slog.Logger) *rateLimiter {
	return &rateLimiter{limit: limit, log: log}
}

func (r *rateLimiter) start(ctx context.Context) {
	if r.limit <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.log.Warn("mqtttap: packets dropped by rate limit",
					"received", count, "dropped", dropped, "limit", r.limit)
			}
		}
	}
}

func (r *rateLimiter) allow() bool {
	if r.limit <= 0 {
		return true
	}
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}

// Tap is the MQTT-bridged opaque event transport. One Tap corresponds
// to one remote controller: inbound packets arrive on cfg.Topic, and
// Send publishes outbound commands to cfg.Topic + "/cmd".
type Tap struct {
	cfg     config.MQTTTapConfig
	log     *slog.Logger
	bus     *events.Bus
	onEvent PacketHandler

	cm *autopaho.ConnectionManager
	rl *rateLimiter
}

// New creates a Tap. onEvent is called for every successfully decoded
// inbound packet; a nil bus is accepted (Publish is nil-safe); a nil
// logger uses slog.Default().
func New(cfg config.MQTTTapConfig, onEvent PacketHandler, bus *events.Bus, log *slog.Logger) *Tap {
	if log == nil {
		log = slog.Default()
	}
	limit := int64(cfg.RateLimitPerMinute)
	return &Tap{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		onEvent: onEvent,
		rl:      newRateLimiter(limit, log),
	}
}

func (t *Tap) cmdTopic() string {
	return t.cfg.Topic + "/cmd"
}

// Start connects to the broker and subscribes to cfg.Topic. It blocks
// until ctx is cancelled, mirroring internal/mqtt.Publisher.Start's
// connect-then-block shape.
func (t *Tap) Start(ctx context.Context) error {
	if !t.cfg.Configured() {
		return fmt.Errorf("mqtttap: broker_url and topic must both be set")
	}

	brokerURL, err := url.Parse(t.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqtttap: parse broker url: %w", err)
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = buildinfo.MQTTClientID()
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			t.log.Info("mqtttap connected", "broker", t.cfg.BrokerURL, "topic", t.cfg.Topic)
			t.bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceTransport, Kind: events.KindTransportConnected,
				Data: map[string]any{"broker": t.cfg.BrokerURL}})

			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: t.cfg.Topic, QoS: 0}},
			}); err != nil {
				t.log.Error("mqtttap subscribe failed", "topic", t.cfg.Topic, "error", err)
			}
		},
		OnConnectError: func(err error) {
			t.log.Warn("mqtttap connection error", "error", err)
			t.bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceTransport, Kind: events.KindTransportDown,
				Data: map[string]any{"error": err.Error()}})
		},
		ClientConfig: paho.ClientConfig{ClientID: clientID},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtttap: connect: %w", err)
	}
	t.cm = cm

	go t.rl.start(ctx)
	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		if pr.Packet.Topic != t.cfg.Topic {
			return true, nil
		}
		if !t.rl.allow() {
			return true, nil
		}
		t.handleInbound(pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		t.log.Warn("mqtttap initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

func (t *Tap) handleInbound(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("mqtttap packet handler panicked", "panic", r)
		}
	}()

	p, err := decodePacket(raw)
	if err != nil {
		t.log.Warn("mqtttap: dropping undecodable packet", "error", err)
		return
	}
	t.bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceTransport, Kind: events.KindPacketReceived,
		Data: map[string]any{"type": p.Type, "code": p.Code, "length": len(p.Payload)}})
	if t.onEvent != nil {
		t.onEvent(p)
	}
}

// Send implements the CommandSender shape used by examples/gattwalk
// and examples/observe: it wraps opcode/params as an outbound command
// packet and publishes it to cfg.Topic + "/cmd".
func (t *Tap) Send(opcode uint16, params []byte) error {
	if t.cm == nil {
		return fmt.Errorf("mqtttap: not started")
	}
	raw, err := encodePacket(hci.Packet{Type: hci.PacketTypeCommand, Code: byte(opcode), Payload: params})
	if err != nil {
		return fmt.Errorf("mqtttap: encode outbound command: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := t.cm.Publish(ctx, &paho.Publish{Topic: t.cmdTopic(), Payload: raw, QoS: 0}); err != nil {
		return fmt.Errorf("mqtttap: publish command: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (t *Tap) Stop(ctx context.Context) error {
	if t.cm == nil {
		return nil
	}
	return t.cm.Disconnect(ctx)
}

// Probe reports whether the broker connection is currently up, for use
// as an internal/connwatch.ProbeFunc. It waits (briefly, bounded by
// ctx) on the same AwaitConnection autopaho uses internally to resume
// a dropped connection, so a probe during a reconnect in progress
// doesn't falsely report down.
func (t *Tap) Probe(ctx context.Context) error {
	if t.cm == nil {
		return fmt.Errorf("mqtttap: not started")
	}
	return t.cm.AwaitConnection(ctx)
}
