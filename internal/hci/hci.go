// Package hci decodes the opaque HCI event envelope the engine reacts
// to. It is the only package in this module that knows the bit-exact
// layout of a Bluetooth Low Energy Host Controller Interface event
// packet. Rule-matching in internal/engine goes through the
// MatchesEvent method below (internal/engine.EventMatcher) rather than
// the engine reaching into Packet's fields itself.
package hci

// Packet type byte values, per the Bluetooth HCI UART transport.
const (
	// PacketTypeCommand identifies an outbound command packet.
	PacketTypeCommand byte = 0x01
	// PacketTypeACLData identifies an asynchronous connection-oriented
	// data packet.
	PacketTypeACLData byte = 0x02
	// PacketTypeEvent identifies an inbound event packet. This is the
	// only packet type the engine's dispatcher reacts to; anything
	// else is treated as UnexpectedPacketType (spec §7).
	PacketTypeEvent byte = 0x04
)

// Top-level HCI event codes relevant to the matcher.
const (
	// EventCodeDisconnectionComplete signals a link has been torn down.
	EventCodeDisconnectionComplete byte = 0x05
	// EventCodeCommandComplete signals a command has finished.
	EventCodeCommandComplete byte = 0x0E
	// EventCodeCommandStatus signals a command has been accepted for
	// execution.
	EventCodeCommandStatus byte = 0x0F
	// EventCodeLEMeta wraps an LE subevent in byte 0 of the payload.
	EventCodeLEMeta byte = 0x3E
	// EventCodeVendor wraps a 16-bit vendor-specific event code in
	// bytes 0-1 of the payload.
	EventCodeVendor byte = 0xFF
)

// Vendor event codes (bytes 0-1 of the payload when EventCode ==
// EventCodeVendor), little-endian.
const (
	// VendorEventInitialized is sent once after the controller's
	// firmware has finished booting ("HAL initialized").
	VendorEventInitialized uint16 = 0x0001
	// VendorEventProcedureComplete is sent when a vendor-defined
	// multi-step procedure (e.g. a DFU transfer) finishes.
	VendorEventProcedureComplete uint16 = 0x0002
)

// LE meta subevent codes (payload offset 0 when EventCode ==
// EventCodeLEMeta), used by the gattwalk and observe example protocols.
const (
	// MetaSubeventConnectionComplete signals an LE connection has been
	// established (or the attempt failed — see the connection-complete
	// payload's status byte at offset 1).
	MetaSubeventConnectionComplete byte = 0x01
	// MetaSubeventAdvertisingReport carries one or more observed
	// advertising packets from an ongoing passive/active scan.
	MetaSubeventAdvertisingReport byte = 0x02
)

// Vendor procedure codes (payload offset 4 of a
// VendorEventProcedureComplete event), used by the gattwalk example
// protocol to recognize the completion of a single attribute read.
const (
	// ProcedureAttributeRead signals a single GATT attribute read
	// completed; the value is carried in the same event's payload
	// starting at offset 5.
	ProcedureAttributeRead byte = 0x10
)

// Packet is the opaque event envelope delivered by the transport. The
// engine never constructs one; it only reads through Matches.
type Packet struct {
	// Type is the transport packet-type byte (see PacketType* above).
	Type byte
	// Payload is everything after the packet type and event-code
	// header byte(s); offsets in Matches are relative to this slice.
	Payload []byte
	// Code is the top-level HCI event code (meaningful only when
	// Type == PacketTypeEvent).
	Code byte
}

// CheckKind names which decode rule a Rule applies to an event. It
// mirrors spec.md §3's check_kind enum exactly.
type CheckKind int

const (
	// CheckNone never matches.
	CheckNone CheckKind = iota
	// CheckEventCode matches the top-level event code.
	CheckEventCode
	// CheckMetaSubeventCode matches the subevent code of an LE meta
	// event (payload offset 0).
	CheckMetaSubeventCode
	// CheckVendorEcode matches the 16-bit vendor event code of a
	// vendor event (payload offset 0, little-endian).
	CheckVendorEcode
	// CheckResetReasonCode matches the reason byte of a vendor
	// "initialized" event (payload offset 2).
	CheckResetReasonCode
	// CheckProcedureCompleteCode matches the procedure byte of a
	// vendor "procedure complete" event (payload offset 4).
	CheckProcedureCompleteCode
	// CheckCondition bypasses decoding entirely; the rule supplies its
	// own predicate.
	CheckCondition
)

func le16(b []byte) (uint16, bool) {
	if len(b) < 2 {
		return 0, false
	}
	return uint16(b[0]) | uint16(b[1])<<8, true
}

// Matches reports whether packet satisfies the given check kind and
// code, per spec.md §4.2. CheckCondition always returns false here —
// condition-based rules are evaluated by the caller against their own
// predicate, never through this function.
func Matches(p Packet, kind CheckKind, code uint16) bool {
	if p.Type != PacketTypeEvent {
		return false
	}
	switch kind {
	case CheckEventCode:
		return uint16(p.Code) == code
	case CheckMetaSubeventCode:
		if p.Code != EventCodeLEMeta || len(p.Payload) < 1 {
			return false
		}
		return uint16(p.Payload[0]) == code
	case CheckVendorEcode:
		if p.Code != EventCodeVendor {
			return false
		}
		v, ok := le16(p.Payload)
		return ok && v == code
	case CheckResetReasonCode:
		if p.Code != EventCodeVendor || len(p.Payload) < 3 {
			return false
		}
		v, ok := le16(p.Payload)
		return ok && v == VendorEventInitialized && uint16(p.Payload[2]) == code
	case CheckProcedureCompleteCode:
		if p.Code != EventCodeVendor || len(p.Payload) < 5 {
			return false
		}
		v, ok := le16(p.Payload)
		return ok && v == VendorEventProcedureComplete && uint16(p.Payload[4]) == code
	default:
		return false
	}
}

// IsEvent reports whether p is an event packet at all. The dispatcher
// uses this to implement the "UnexpectedPacketType is a no-op" rule of
// spec.md §7 before running any rule evaluation.
func (p Packet) IsEvent() bool {
	return p.Type == PacketTypeEvent
}

// MatchesEvent implements internal/engine.EventMatcher: it is the only
// path by which the engine's rule-matching decodes a check-kind/code
// expectation against an event.
func (p Packet) MatchesEvent(kind CheckKind, code uint16) bool {
	return Matches(p, kind, code)
}
