package engine

import "errors"

// Sentinel errors for the error kinds named in spec.md §7. Only
// ErrPerformFailed is ever surfaced as a protocol abort; the others
// never abort a protocol, matching the "preserve current behavior"
// decision recorded in DESIGN.md.
var (
	// ErrCapacityExceeded is returned by RuleStore.Add* when the
	// target set is already at its configured capacity. The add is
	// dropped; the caller's production proceeds unaffected.
	ErrCapacityExceeded = errors.New("engine: rule set at capacity")

	// ErrPerformFailed marks that a production's Perform callback
	// returned false. The dispatcher aborts the current protocol.
	ErrPerformFailed = errors.New("engine: perform action failed")

	// ErrNoCurrentProtocol names the "no current protocol" condition.
	// No function in this package returns it.
	ErrNoCurrentProtocol = errors.New("engine: no current protocol")
)
