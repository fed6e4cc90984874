package engine

import (
	"log/slog"

	"github.com/dohiam/ble-protocol-runtime/internal/clock"
	"github.com/dohiam/ble-protocol-runtime/internal/hci"
)

// Result is the outcome of one ProductionEngine.Dispatch call, per
// spec.md §4.3.
type Result int

const (
	// NoMatch means nothing fired and the production did not finish.
	NoMatch Result = iota
	// Advanced means at least one rule fired but the production is
	// still running.
	Advanced
	// Done means the production finished (by until, timeout, a
	// single-shot completing, or a failed Perform).
	Done
)

// String returns a human-readable name, used in debug logging.
func (r Result) String() string {
	switch r {
	case NoMatch:
		return "NoMatch"
	case Advanced:
		return "Advanced"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// ProductionEngine is Component C of spec.md §2: it runs the rule
// store's three sets against an event in precedence order, invokes
// matching actions, and decides whether the current Production is
// finished.
type ProductionEngine struct {
	rules      *RuleStore
	production Production
	clk        clock.Clock
	log        *slog.Logger
}

// NewProductionEngine creates an engine over the given rule store and
// clock. A nil logger is replaced with slog.Default(), matching the
// nil-safe conventions the rest of this module follows.
func NewProductionEngine(rules *RuleStore, clk clock.Clock, log *slog.Logger) *ProductionEngine {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ProductionEngine{rules: rules, clk: clk, log: log}
}

// Rules returns the underlying RuleStore so protocol bodies can
// configure normal/exclusive/global rules for the next production.
func (e *ProductionEngine) Rules() *RuleStore { return e.rules }

// Production returns the current production state so protocol bodies
// can configure Perform/until and read MetExpectations.
func (e *ProductionEngine) Production() *Production { return &e.production }

// Now returns the engine's clock collaborator's current millisecond
// reading (spec.md §6), so protocol bodies can stamp a timeout's
// start instant from the same clock the engine will later evaluate
// it against, rather than reaching for their own.
func (e *ProductionEngine) Now() uint64 { return e.clk.NowMillis() }

// ClearNormal is the public clear_normal() operation of spec.md §4.1:
// it empties the normal rule set AND resets rule_matched. Protocol
// authors call this directly when they want to discard in-flight
// expectations explicitly; it is distinct from the automatic
// end-of-production clear performed by finishProduction, which
// preserves rule_matched for MetExpectations.
func (e *ProductionEngine) ClearNormal() {
	e.rules.ClearNormal()
	e.production.ruleMatched = false
}

// BeginNextProduction resets the rule_matched flag so the next
// production starts clean. The Dispatcher calls this once per completed
// production (each Done result), after the protocol body has been given a chance to read
// MetExpectations and has configured the next production's
// perform/rules/until — so it must never clear anything the protocol
// body just set up. Until-configuration and rule arrays are already
// cleared by finishProduction when the prior production completed;
// Perform/UserArg need no clearing because performUsed gates re-firing
// a stale Perform until SetPerform overwrites it.
func (e *ProductionEngine) BeginNextProduction() {
	e.production.ruleMatched = false
}

// ResetAll discards all production state and the normal/exclusive rule
// sets (global rules persist until ClearGlobal/ClearAll): used when a
// protocol is aborted or replaced, as opposed to BeginNextProduction
// which only advances between productions of the same protocol.
func (e *ProductionEngine) ResetAll() {
	e.rules.ClearNormal()
	e.rules.ClearExclusive()
	e.production.reset()
}

// Dispatch runs one event through the rule precedence of spec.md
// §4.3 and decides termination. It returns ErrPerformFailed when the
// production's one-shot Perform callback returned false; the caller
// (Dispatcher) is responsible for aborting the current protocol in
// that case — the engine itself only owns rule/production state, not
// "current protocol".
func (e *ProductionEngine) Dispatch(p hci.Packet) (Result, error) {
	if !p.IsEvent() {
		// UnexpectedPacketType (spec.md §7): no-op, state preserved,
		// until is not evaluated on this packet.
		return NoMatch, nil
	}

	prod := &e.production

	if prod.perform != nil && !prod.performUsed {
		ok := prod.perform(prod.performArg)
		prod.performUsed = true
		if !ok {
			e.log.Debug("perform action failed, aborting production")
			e.finishProduction()
			return Done, ErrPerformFailed
		}
	}

	fired := e.runRules(p)

	if e.isFinished(p) {
		e.finishProduction()
		return Done, nil
	}
	if fired {
		return Advanced, nil
	}
	return NoMatch, nil
}

// runRules fires exclusive (first match only), then all matching
// normal rules, then — only if neither fired — the first matching
// global rule. It returns whether any normal/exclusive rule fired.
func (e *ProductionEngine) runRules(p hci.Packet) bool {
	prod := &e.production
	fired := false

	for _, r := range e.rules.exclusive {
		if r.Matches(p) {
			if r.Action != nil && !r.Action(p, r.UserArg) {
				e.log.Debug("engine: rule action returned false", "set", "exclusive")
			}
			fired = true
			break
		}
	}

	for _, r := range e.rules.normal {
		if r.Matches(p) {
			if r.Action != nil && !r.Action(p, r.UserArg) {
				e.log.Debug("engine: rule action returned false", "set", "normal")
			}
			fired = true
		}
	}

	if fired {
		prod.ruleMatched = true
		return true
	}

	for _, r := range e.rules.global {
		if r.Matches(p) {
			if r.Action != nil && !r.Action(p, r.UserArg) {
				e.log.Debug("engine: rule action returned false", "set", "global")
			}
			break
		}
	}
	return false
}

// isFinished evaluates the termination sources of spec.md §4.3 in the
// order: no-until single-shot, until predicate, until event match,
// timeout.
func (e *ProductionEngine) isFinished(p hci.Packet) bool {
	prod := &e.production

	if !prod.hasUntil() {
		return true
	}
	if prod.untilPredicate != nil && prod.untilPredicate(p) {
		return true
	}
	if prod.hasUntilEvent && p.MatchesEvent(prod.untilEvent.CheckKind, prod.untilEvent.Code) {
		return true
	}
	if prod.hasTimeout {
		now := e.clk.NowMillis()
		elapsed := now - prod.startMillis
		if elapsed >= prod.timeoutMillis {
			return true
		}
	}
	return false
}

// finishProduction clears the normal/exclusive rule sets and the
// until configuration (global persists, per spec.md §3). It
// deliberately does not touch rule_matched — that is preserved until
// the protocol body reads it via MetExpectations, and cleared only by
// BeginNextProduction.
func (e *ProductionEngine) finishProduction() {
	e.rules.ClearNormal()
	e.rules.ClearExclusive()
	e.production.untilPredicate = nil
	e.production.hasUntilEvent = false
	e.production.hasTimeout = false
}
