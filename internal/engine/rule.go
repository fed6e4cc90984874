// Package engine implements the three-layer execution engine described
// in spec.md: a rule-based Production Engine, a coroutine-shaped
// Protocol Stepper, and a single-entry Dispatcher that ties the two
// together and is driven by whatever delivers events (HCI, an MQTT
// tap, a test harness). Rule-matching decodes a CheckKind/code
// expectation only through the EventMatcher interface (matcher.go);
// hci.Packet is the only implementation this module ever constructs.
package engine

import "github.com/dohiam/ble-protocol-runtime/internal/hci"

// Action is invoked when an event-triggered rule fires. Its return
// value is informational in this release (spec.md §7, §9): only a
// failed Perform aborts a protocol.
type Action func(p hci.Packet, userArg any) bool

// Perform is the side-effecting call that starts a production. It
// runs at most once per production, before any rule evaluation. A
// false return aborts the current protocol.
type Perform func(userArg any) bool

// Condition is a pure predicate over an event, used by CheckCondition
// rules and by until-predicates.
type Condition func(p hci.Packet) bool

// Rule is the atomic reactive unit of spec.md §3: an expectation
// (CheckKind + code, or a Condition) paired with an Action.
type Rule struct {
	CheckKind hci.CheckKind
	Code      uint16
	Condition Condition // only consulted when CheckKind == hci.CheckCondition
	Action    Action
	UserArg   any
}

// Matches reports whether the rule fires for the given event. p is
// accepted as an EventMatcher: the CheckKind/code path never reaches
// into p's concrete fields, only a CheckCondition rule needs the
// underlying hci.Packet, to hand its raw bytes to the caller-supplied
// Condition.
func (r Rule) Matches(p EventMatcher) bool {
	if r.CheckKind == hci.CheckCondition {
		packet, ok := p.(hci.Packet)
		return ok && r.Condition != nil && r.Condition(packet)
	}
	return p.MatchesEvent(r.CheckKind, r.Code)
}
