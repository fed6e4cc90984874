package engine

import (
	"log/slog"
	"time"

	"github.com/dohiam/ble-protocol-runtime/internal/clock"
	"github.com/dohiam/ble-protocol-runtime/internal/hci"
)

// MaxNameLength is the default bound on protocol/action debug names
// (spec.md §6 "Configuration").
const MaxNameLength = 40

// Protocol is a stored function pointer plus a debug name (spec.md
// §3). At most one Protocol is "current" at any time.
type Protocol struct {
	Name string
	Run  ProtocolFunc
	step Step
}

// Dispatcher is Component E of spec.md §2/§4.5: the single event entry
// point. It owns "current protocol" state and coordinates the
// Production Engine and the Protocol Stepper. All of the source's
// module-level statics (rule store, current protocol, current
// perform, current until, timeout) are folded into this one value,
// per spec.md §9 "Global mutable singletons" — the host owns a
// Dispatcher and every API that used to read/write file-scope state
// is now a method on it.
type Dispatcher struct {
	engine  *ProductionEngine
	current *Protocol
	log     *slog.Logger
	clk     clock.Clock
}

// NewDispatcher creates a Dispatcher with the given rule-set capacity
// (0 uses DefaultRuleCapacity). A nil clock uses clock.System{}; a nil
// logger uses slog.Default().
func NewDispatcher(ruleCapacity int, clk clock.Clock, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Dispatcher{
		engine: NewProductionEngine(NewRuleStore(ruleCapacity, log), clk, log),
		log:    log,
		clk:    clk,
	}
}

// Engine exposes the underlying ProductionEngine so protocol bodies
// and example protocols can configure rules/perform/until for the
// production they are setting up.
func (d *Dispatcher) Engine() *ProductionEngine { return d.engine }

// SetCurrentProtocol installs p as the running protocol and resets its
// step counter to 0. Any previously-current protocol's rule state is
// cleared first (the invariant of spec.md §3: "when current_protocol
// is cleared, all normal/exclusive rules and until-conditions are
// cleared too" applies symmetrically on replacement).
func (d *Dispatcher) SetCurrentProtocol(p *Protocol) {
	d.ClearCurrentProtocol()
	p.step.Reset()
	d.current = p
	d.log.Debug("protocol started", "protocol", p.Name)
	// Give the protocol body its first chance to configure a
	// production before any event arrives.
	d.runProtocolBody()
}

// ClearCurrentProtocol clears the current protocol and all transient
// rule/until state (spec.md §3, §4.5).
func (d *Dispatcher) ClearCurrentProtocol() {
	if d.current != nil {
		d.log.Debug("protocol cleared", "protocol", d.current.Name)
	}
	d.current = nil
	d.engine.ResetAll()
}

// Get returns the current protocol, or nil if idle.
func (d *Dispatcher) Get() *Protocol { return d.current }

// IsRunning reports whether a protocol is current.
func (d *Dispatcher) IsRunning() bool { return d.current != nil }

// OnEvent is the single entry point called by the host for every
// delivered event (spec.md §4.5). It runs the Production Engine
// against the packet; on Done it re-enters the current protocol body
// to configure the next production, aborting the protocol if the body
// (or a failed Perform) signals failure.
func (d *Dispatcher) OnEvent(p hci.Packet) Result {
	result, err := d.engine.Dispatch(p)

	if err == ErrPerformFailed {
		d.log.Warn("perform failed, aborting protocol",
			"protocol", d.protocolName())
		d.ClearCurrentProtocol()
		return result
	}

	if result != Done {
		return result
	}

	if d.current == nil {
		// Done with no current protocol (e.g. a bare StepFunction
		// driving the production directly): nothing further to do.
		d.engine.BeginNextProduction()
		return result
	}

	ok := d.runProtocolBody()
	d.engine.BeginNextProduction()
	if !ok {
		d.log.Debug("protocol body returned false, aborting", "protocol", d.protocolName())
		d.current = nil
		d.engine.ResetAll()
	}
	return result
}

// runProtocolBody invokes the current protocol's function with its own
// persisted Step, returning its protocol-success flag. It is a no-op
// returning true if there is no current protocol.
func (d *Dispatcher) runProtocolBody() bool {
	if d.current == nil {
		return true
	}
	d.current.step.Begin()
	return d.current.Run(&d.current.step, d.engine)
}

func (d *Dispatcher) protocolName() string {
	if d.current == nil {
		return ""
	}
	return d.current.Name
}

// WaitForFinish busy-polls IsRunning with the given poll interval
// until the protocol clears or ctx-less deadline elapses (timeout<=0
// waits forever). This is the non-essential helper of spec.md §4.5 /
// §9 — on an event loop that already suspends between OnEvent calls,
// nothing here is needed; it exists only for hosts that must
// busy-wait.
func (d *Dispatcher) WaitForFinish(poll, timeout time.Duration) bool {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for d.IsRunning() {
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
	return true
}
