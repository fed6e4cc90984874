// Package attdb is the "attribute/service database" domain utility
// named in spec.md §1: a persisted table of GATT-like attributes
// (handle, UUID, properties, value) that example protocols populate
// and query as they walk a peer's attribute layout. It is a domain
// collaborator, not part of the core engine — internal/engine never
// imports this package.
package attdb

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Attribute is a single row of a peer's attribute/service table, the
// GATT-walk analogue of a discovered characteristic or service
// declaration.
type Attribute struct {
	Handle     uint16
	PeerAddr   string
	UUID       string
	Properties byte
	Value      []byte
	UpdatedAt  time.Time
}

// DB is a SQLite-backed attribute/service store, one row per
// (peer address, handle) pair. Grounded on internal/memory.SQLiteStore's
// WAL-mode open and migrate-on-open shape.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the attribute database at path
// and runs its migration. path may be ":memory:" for tests.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("attdb: open %s: %w", path, err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("attdb: migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS attributes (
		peer_addr  TEXT NOT NULL,
		handle     INTEGER NOT NULL,
		uuid       TEXT NOT NULL,
		properties INTEGER NOT NULL DEFAULT 0,
		value      BLOB,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (peer_addr, handle)
	);
	CREATE INDEX IF NOT EXISTS idx_attributes_peer ON attributes(peer_addr);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Upsert stores or replaces a single attribute row, stamping
// UpdatedAt with now. This is what a GATT-walk protocol's per-attribute
// action callback calls as it receives each "read response" event.
func (d *DB) Upsert(a Attribute) error {
	_, err := d.db.Exec(
		`INSERT INTO attributes (peer_addr, handle, uuid, properties, value, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(peer_addr, handle) DO UPDATE SET
			uuid = excluded.uuid,
			properties = excluded.properties,
			value = excluded.value,
			updated_at = excluded.updated_at`,
		a.PeerAddr, a.Handle, a.UUID, a.Properties, a.Value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("attdb: upsert handle %#04x for %s: %w", a.Handle, a.PeerAddr, err)
	}
	return nil
}

// ListByPeer returns all attributes discovered for a peer, ordered by
// handle — the shape a GATT-walk summary or tracedoc report reads.
func (d *DB) ListByPeer(peerAddr string) ([]Attribute, error) {
	rows, err := d.db.Query(
		`SELECT handle, uuid, properties, value, updated_at FROM attributes
		 WHERE peer_addr = ? ORDER BY handle ASC`, peerAddr)
	if err != nil {
		return nil, fmt.Errorf("attdb: list %s: %w", peerAddr, err)
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		a := Attribute{PeerAddr: peerAddr}
		if err := rows.Scan(&a.Handle, &a.UUID, &a.Properties, &a.Value, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("attdb: scan row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns a single attribute by peer address and handle. The
// second return value is false if no such row exists.
func (d *DB) Get(peerAddr string, handle uint16) (Attribute, bool, error) {
	a := Attribute{PeerAddr: peerAddr, Handle: handle}
	row := d.db.QueryRow(
		`SELECT uuid, properties, value, updated_at FROM attributes
		 WHERE peer_addr = ? AND handle = ?`, peerAddr, handle)
	err := row.Scan(&a.UUID, &a.Properties, &a.Value, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return Attribute{}, false, nil
	}
	if err != nil {
		return Attribute{}, false, fmt.Errorf("attdb: get handle %#04x for %s: %w", handle, peerAddr, err)
	}
	return a, true, nil
}

// ClearPeer deletes all attributes discovered for a peer, e.g. before
// re-running a GATT walk from scratch.
func (d *DB) ClearPeer(peerAddr string) error {
	_, err := d.db.Exec(`DELETE FROM attributes WHERE peer_addr = ?`, peerAddr)
	if err != nil {
		return fmt.Errorf("attdb: clear %s: %w", peerAddr, err)
	}
	return nil
}

// Count returns the number of attributes recorded for a peer.
func (d *DB) Count(peerAddr string) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM attributes WHERE peer_addr = ?`, peerAddr).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("attdb: count %s: %w", peerAddr, err)
	}
	return n, nil
}
