package engine

import "github.com/dohiam/ble-protocol-runtime/internal/hci"

// UntilEventMatch pairs a CheckKind and code for the "until a specific
// event arrives" termination source of spec.md §3.
type UntilEventMatch struct {
	CheckKind hci.CheckKind
	Code      uint16
}

// Production is the ephemeral state of one in-flight step (spec.md
// §3). A Dispatcher holds exactly one Production at a time; it is
// reset when the production completes.
type Production struct {
	// perform and performArg are consumed at most once, on the first
	// dispatch of this production.
	perform     Perform
	performArg  any
	performUsed bool

	untilPredicate  Condition
	hasUntilEvent   bool
	untilEvent      UntilEventMatch
	hasTimeout      bool
	timeoutMillis   uint64
	startMillis     uint64

	// ruleMatched records whether any normal/exclusive rule has fired
	// during this production (spec.md §4.3 step 5). Preserved across
	// Advanced/NoMatch results until the protocol body reads it via
	// MetExpectations, and reset when a new production starts or by
	// ProductionEngine.ClearNormal.
	ruleMatched bool
}

// SetPerform configures the one-shot side-effecting call for this
// production. Calling it more than once before the production
// completes replaces the pending perform — the engine still invokes
// it at most once.
func (p *Production) SetPerform(fn Perform, arg any) {
	p.perform = fn
	p.performArg = arg
	p.performUsed = false
}

// SetUntilPredicate configures a predicate termination source.
func (p *Production) SetUntilPredicate(cond Condition) {
	p.untilPredicate = cond
}

// SetUntilEventMatch configures an event-match termination source.
func (p *Production) SetUntilEventMatch(kind hci.CheckKind, code uint16) {
	p.hasUntilEvent = true
	p.untilEvent = UntilEventMatch{CheckKind: kind, Code: code}
}

// SetTimeout configures a timeout termination source, starting the
// clock at startMillis (the value the engine reads from its Clock
// when the production began).
func (p *Production) SetTimeout(timeoutMillis, startMillis uint64) {
	p.hasTimeout = true
	p.timeoutMillis = timeoutMillis
	p.startMillis = startMillis
}

// hasUntil reports whether any termination source beyond "single-shot"
// is configured.
func (p *Production) hasUntil() bool {
	return p.untilPredicate != nil || p.hasUntilEvent || p.hasTimeout
}

// MetExpectations reports whether at least one normal/exclusive rule
// has fired during the current production (spec.md §8 invariant 8).
func (p *Production) MetExpectations() bool {
	return p.ruleMatched
}

// reset clears all production state, preparing for the next
// production. Rule sets (normal/exclusive) are cleared separately by
// the RuleStore; this only clears Production-local state.
func (p *Production) reset() {
	*p = Production{}
}
