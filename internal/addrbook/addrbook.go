// Package addrbook is the "address list" domain utility named in
// spec.md §1: a fixed-capacity table of known peer addresses, keyed by
// a stable UUID the way internal/mqtt.LoadOrCreateInstanceID keys a
// Thane instance so identity survives a peer's advertised address
// rotating (common for BLE privacy-enabled peripherals). Example
// protocols use it to resolve a friendly name to an address before
// starting a connection production.
package addrbook

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Entry is one known peer.
type Entry struct {
	ID       string    `yaml:"id"` // stable UUIDv7, survives Address/Name changes
	Name     string    `yaml:"name"`
	Address  string    `yaml:"address"` // BLE device address, e.g. "AA:BB:CC:DD:EE:FF"
	LastSeen time.Time `yaml:"last_seen"`
}

// ErrCapacityExceeded is returned by Add when the book is already at
// its configured capacity, mirroring internal/engine.ErrCapacityExceeded's
// fail-closed behavior for the same reason (spec.md §9 "Fixed-capacity
// arrays").
var ErrCapacityExceeded = fmt.Errorf("addrbook: at capacity")

// Book is a fixed-capacity, optionally YAML-persisted peer address
// table. Not safe for concurrent use — like the Dispatcher, it is only
// ever driven from the single-threaded host event loop (spec.md §5).
type Book struct {
	capacity int
	entries  []Entry
}

// New creates an empty Book with the given capacity. A capacity <= 0
// means unbounded (hosted, non-embedded use — spec.md §9 allows
// grow-on-demand on hosted targets).
func New(capacity int) *Book {
	return &Book{capacity: capacity}
}

// Load reads a Book from a YAML file. A missing file is not an error;
// it returns an empty Book so first-run startup doesn't need special
// casing.
func Load(path string, capacity int) (*Book, error) {
	b := New(capacity)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("addrbook: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &b.entries); err != nil {
		return nil, fmt.Errorf("addrbook: parse %s: %w", path, err)
	}
	return b, nil
}

// Save persists the Book to a YAML file.
func (b *Book) Save(path string) error {
	data, err := yaml.Marshal(b.entries)
	if err != nil {
		return fmt.Errorf("addrbook: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("addrbook: write %s: %w", path, err)
	}
	return nil
}

// Add appends a new entry with a freshly generated stable ID, failing
// closed if the book is at capacity (spec.md §7 CapacityExceeded
// policy: logged by the caller, add dropped, caller's state
// unaffected).
func (b *Book) Add(name, address string) (Entry, error) {
	if b.capacity > 0 && len(b.entries) >= b.capacity {
		return Entry{}, ErrCapacityExceeded
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("addrbook: generate id: %w", err)
	}

	e := Entry{ID: id.String(), Name: name, Address: address, LastSeen: time.Now()}
	b.entries = append(b.entries, e)
	return e, nil
}

// ByName returns the entry with the given friendly name, and whether
// it was found. Names are not guaranteed unique; the first match wins.
func (b *Book) ByName(name string) (Entry, bool) {
	for _, e := range b.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// ByAddress returns the entry with the given BLE address.
func (b *Book) ByAddress(address string) (Entry, bool) {
	for _, e := range b.entries {
		if e.Address == address {
			return e, true
		}
	}
	return Entry{}, false
}

// Touch updates the LastSeen timestamp and, if addr is non-empty, the
// Address field for the entry with the given ID — called when a peer
// with a rotating address re-advertises under a new address but the
// same resolvable identity.
func (b *Book) Touch(id, addr string) bool {
	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries[i].LastSeen = time.Now()
			if addr != "" {
				b.entries[i].Address = addr
			}
			return true
		}
	}
	return false
}

// All returns every entry, in insertion order.
func (b *Book) All() []Entry {
	return b.entries
}

// Len returns the number of entries currently stored.
func (b *Book) Len() int {
	return len(b.entries)
}
