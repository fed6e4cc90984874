package engine

import "github.com/dohiam/ble-protocol-runtime/internal/hci"

// EventMatcher is the decoding seam spec.md §1 asks for: the engine's
// rule-matching evaluates a CheckKind/code expectation only through
// this interface, never by reaching into a wire format's bytes
// itself. hci.Packet is this module's only implementation (see
// Packet.MatchesEvent) — a future non-HCI transport could supply its
// own envelope type here without Rule.Matches or the Production
// Engine's until-event check changing at all.
type EventMatcher interface {
	MatchesEvent(kind hci.CheckKind, code uint16) bool
}
