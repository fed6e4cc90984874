package engine

import "log/slog"

// DefaultRuleCapacity is the default per-set bound named in spec.md
// §3 ("default: 20 rules each").
const DefaultRuleCapacity = 20

// RuleStore holds the three rule sets of spec.md §3: normal,
// exclusive, and global. Each set is a fixed-capacity slice allocated
// once at construction (§9 "Fixed-capacity arrays") — Add* never grows
// past the configured capacity; it fails closed and logs instead.
type RuleStore struct {
	capacity int
	log      *slog.Logger

	normal    []Rule
	exclusive []Rule
	global    []Rule
}

// NewRuleStore creates a RuleStore with the given per-set capacity. A
// capacity <= 0 uses DefaultRuleCapacity. A nil logger uses
// slog.Default().
func NewRuleStore(capacity int, log *slog.Logger) *RuleStore {
	if capacity <= 0 {
		capacity = DefaultRuleCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &RuleStore{
		capacity:  capacity,
		log:       log,
		normal:    make([]Rule, 0, capacity),
		exclusive: make([]Rule, 0, capacity),
		global:    make([]Rule, 0, capacity),
	}
}

// AddNormal appends a rule to the normal set, in priority/insertion
// order. Returns ErrCapacityExceeded if the set is full.
func (s *RuleStore) AddNormal(r Rule) error {
	if len(s.normal) >= s.capacity {
		s.log.Warn("engine: dropping rule, normal set at capacity", "capacity", s.capacity)
		return ErrCapacityExceeded
	}
	s.normal = append(s.normal, r)
	return nil
}

// AddExclusive appends a rule to the exclusive set.
func (s *RuleStore) AddExclusive(r Rule) error {
	if len(s.exclusive) >= s.capacity {
		s.log.Warn("engine: dropping rule, exclusive set at capacity", "capacity", s.capacity)
		return ErrCapacityExceeded
	}
	s.exclusive = append(s.exclusive, r)
	return nil
}

// AddGlobal appends a rule to the global (fallback) set.
func (s *RuleStore) AddGlobal(r Rule) error {
	if len(s.global) >= s.capacity {
		s.log.Warn("engine: dropping rule, global set at capacity", "capacity", s.capacity)
		return ErrCapacityExceeded
	}
	s.global = append(s.global, r)
	return nil
}

// Normal returns the normal rule set in insertion order. The returned
// slice must not be mutated by the caller.
func (s *RuleStore) Normal() []Rule { return s.normal }

// Exclusive returns the exclusive rule set in insertion order.
func (s *RuleStore) Exclusive() []Rule { return s.exclusive }

// Global returns the global (fallback) rule set in insertion order.
func (s *RuleStore) Global() []Rule { return s.global }

// ClearNormal empties the normal set.
func (s *RuleStore) ClearNormal() {
	s.normal = s.normal[:0]
}

// ClearExclusive empties the exclusive set.
func (s *RuleStore) ClearExclusive() {
	s.exclusive = s.exclusive[:0]
}

// ClearGlobal empties the global set. Unlike normal/exclusive, this is
// never called automatically at end-of-production (spec.md §3
// invariant: global persists across productions).
func (s *RuleStore) ClearGlobal() {
	s.global = s.global[:0]
}

// ClearAll empties all three sets.
func (s *RuleStore) ClearAll() {
	s.ClearNormal()
	s.ClearExclusive()
	s.ClearGlobal()
}
