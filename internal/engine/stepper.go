package engine

// Step is the per-call handle a Protocol or StepFunction body uses to
// implement the coroutine-by-counter contract of spec.md §4.4/§9: a
// persistent step_index compared against a compare_counter that resets
// to 0 on every entry. Each yield site in source order either fires
// (when compare_counter == step_index) or falls through after
// incrementing compare_counter.
//
// A Step is not safe for concurrent use; it is only ever driven by the
// single-threaded Dispatcher loop (spec.md §5).
type Step struct {
	stepIndex      int
	compareCounter int
	failed         bool
}

// Reset rewinds the step counter to 0, e.g. when a protocol finishes
// (spec.md §4.4 "terminal").
func (s *Step) Reset() {
	s.stepIndex = 0
}

// begin is called once at the top of every re-entry, before any yield
// site is evaluated.
func (s *Step) begin() {
	s.compareCounter = 0
	s.failed = false
}

// at reports whether the yield site at the caller's position in
// source order is the one that should fire this call, and advances
// compareCounter for the next yield site when it is not.
func (s *Step) at() bool {
	if s.compareCounter == s.stepIndex {
		return true
	}
	s.compareCounter++
	return false
}

// Advance implements the "advance yield" of spec.md §4.4: if
// performOK is true the step index moves to the next step; otherwise
// the protocol aborts (the caller's Failed() becomes true).
func (s *Step) Advance(performOK bool) {
	if !performOK {
		s.failed = true
		return
	}
	s.stepIndex++
}

// Repeat implements the "conditional-repeat yield" of spec.md §4.4:
// the step index advances only when cond is false (i.e. "keep
// repeating this step while cond holds"). If performOK is false the
// protocol aborts regardless of cond.
func (s *Step) Repeat(performOK bool, cond bool) {
	if !performOK {
		s.failed = true
		return
	}
	if !cond {
		s.stepIndex++
	}
}

// Failed reports whether the body should abort (protocol-success flag
// forced to false) after this entry.
func (s *Step) Failed() bool {
	return s.failed
}

// At is the exported yield-site test: call it once per yield point, in
// source order, at the top of each "if" guarding that step's body.
// Protocol and StepFunction bodies call Begin() once on entry and then
// At() at each yield site.
func (s *Step) At() bool {
	return s.at()
}

// Begin must be called once, at the very top of a Protocol or
// StepFunction body, before the first At() call.
func (s *Step) Begin() {
	s.begin()
}

// Index returns the current persisted step index, mostly useful for
// debug logging/tracing.
func (s *Step) Index() int {
	return s.stepIndex
}

// ProtocolFunc is a reentrant protocol body: invoked once per
// production to configure, it owns a persistent Step and receives the
// *ProductionEngine to configure the next production. It returns false to
// force-abort the protocol (the "protocol-success flag" of §4.4),
// true otherwise — including on normal completion, where the body is
// also responsible for calling step.Reset() (the "terminal" yield).
type ProtocolFunc func(step *Step, e *ProductionEngine) bool

// StepFuncBody is the generic non-protocol coroutine of spec.md §4.4:
// same counter trick, no rule/production coupling.
type StepFuncBody func(step *Step)
