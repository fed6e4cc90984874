// Package debugws is the optional "live trace inspection" server named
// in spec.md §6/§9: a websocket endpoint that streams every
// internal/events.Event published on the bus (in this module, by the
// mqtt_tap transport and the protocol scheduler; engine.Dispatcher
// publishes nothing) to connected debug clients in real time, plus a
// plain "/trace" HTTP endpoint that renders the most recent events as
// an internal/tracedoc HTML report for a browser. It is adapted from
// the teacher's internal/homeassistant.WSClient — same JSON-message
// framing and logger conventions, same "one goroutine reads, one
// goroutine writes, drop the message rather than block a slow peer"
// shape — but turned inside out into a server: this package accepts
// connections rather than dialing one.
package debugws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dohiam/ble-protocol-runtime/internal/config"
	"github.com/dohiam/ble-protocol-runtime/internal/events"
	"github.com/dohiam/ble-protocol-runtime/internal/tracedoc"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 64
	// traceBufferSize bounds how many recent events "/trace" can
	// render, so a long-running host doesn't grow this without limit.
	traceBufferSize = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Trace inspection is a same-host/LAN debugging aid, not a public
	// endpoint; any origin is accepted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server streams bus events to any number of connected websocket
// clients. It is safe for concurrent use.
type Server struct {
	cfg config.DebugWSConfig
	bus *events.Bus
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	trace   []events.Event
}

type client struct {
	conn *websocket.Conn
	send chan events.Event
}

// New creates a Server over bus. bus must be non-nil if Run is called:
// Run subscribes to it, and events.Bus.Subscribe is not nil-safe (only
// Publish and SubscriberCount are). Callers should check cfg.Enabled
// before starting it.
func New(cfg config.DebugWSConfig, bus *events.Bus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, bus: bus, log: log, clients: make(map[*client]struct{})}
}

// ServeHTTP serves the rendered trace report at "/trace" and upgrades
// every other request to a websocket connection, registering the new
// client to receive every subsequently published event.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/trace" {
		s.serveTrace(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("debugws: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan events.Event, clientBuffer)}
	s.addClient(c)
	s.log.Debug("debugws: client connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards inbound frames (this endpoint is output-only) and
// exits on any read error, at which point it unregisters the client.
// Modeled on WSClient.readLoop's "read until error, then stop" shape.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("debugws: client closed normally")
			}
			return
		}
	}
}

// writeLoop drains c.send, marshaling each event as a JSON text frame,
// and sends periodic pings so idle connections are detected.
func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.log.Error("debugws: marshal event", "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// broadcast fans e out to every connected client, dropping it for any
// client whose send buffer is full rather than blocking the publisher
// — the same trade-off events.Bus.Publish itself makes. It also
// records e into the bounded trace buffer "/trace" renders from.
func (s *Server) broadcast(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trace = append(s.trace, e)
	if len(s.trace) > traceBufferSize {
		s.trace = s.trace[len(s.trace)-traceBufferSize:]
	}

	for c := range s.clients {
		select {
		case c.send <- e:
		default:
			s.log.Warn("debugws: client send buffer full, dropping event", "kind", e.Kind)
		}
	}
}

// serveTrace renders the current trace buffer as an HTML report via
// internal/tracedoc, for a plain browser request (no websocket client
// needed).
func (s *Server) serveTrace(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	trace := make([]events.Event, len(s.trace))
	copy(trace, s.trace)
	s.mu.Unlock()

	html, err := tracedoc.Render("hciproto trace", trace)
	if err != nil {
		s.log.Error("debugws: render trace report", "error", err)
		http.Error(w, "failed to render trace report", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

// Run subscribes to the bus and forwards every published event to
// connected clients until ctx is cancelled. Call this in its own
// goroutine alongside ListenAndServe.
func (s *Server) Run(ctx context.Context) {
	sub := s.bus.Subscribe(256)
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			s.broadcast(e)
		}
	}
}

// Addr returns the "host:port" the server should bind to, per cfg.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
}
