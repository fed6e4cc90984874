package attdb

import (
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "attdb.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestUpsertAndGet(t *testing.T) {
	d := newTestDB(t)

	a := Attribute{
		Handle:     0x0003,
		PeerAddr:   "AA:BB:CC:DD:EE:FF",
		UUID:       "00002a00-0000-1000-8000-00805f9b34fb",
		Properties: 0x02,
		Value:      []byte("peer name"),
	}
	if err := d.Upsert(a); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := d.Get(a.PeerAddr, a.Handle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: expected found=true")
	}
	if got.UUID != a.UUID || got.Properties != a.Properties || string(got.Value) != string(a.Value) {
		t.Errorf("Get returned %+v, want fields matching %+v", got, a)
	}
}

func TestGetMissing(t *testing.T) {
	d := newTestDB(t)

	_, ok, err := d.Get("AA:BB:CC:DD:EE:FF", 0x0001)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get: expected found=false for unknown handle")
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	d := newTestDB(t)
	peer := "11:22:33:44:55:66"

	if err := d.Upsert(Attribute{Handle: 1, PeerAddr: peer, UUID: "u1", Value: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	if err := d.Upsert(Attribute{Handle: 1, PeerAddr: peer, UUID: "u2", Value: []byte("b")}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := d.Get(peer, 1)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.UUID != "u2" || string(got.Value) != "b" {
		t.Errorf("Upsert did not replace existing row: got %+v", got)
	}

	n, err := d.Count(peer)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1 (upsert must not duplicate rows)", n)
	}
}

func TestListByPeerOrdersByHandle(t *testing.T) {
	d := newTestDB(t)
	peer := "peer-1"

	for _, h := range []uint16{0x0010, 0x0001, 0x0005} {
		if err := d.Upsert(Attribute{Handle: h, PeerAddr: peer, UUID: "u"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := d.ListByPeer(peer)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("ListByPeer returned %d rows, want 3", len(got))
	}
	want := []uint16{0x0001, 0x0005, 0x0010}
	for i, a := range got {
		if a.Handle != want[i] {
			t.Errorf("row %d handle = %#04x, want %#04x", i, a.Handle, want[i])
		}
	}
}

func TestClearPeer(t *testing.T) {
	d := newTestDB(t)
	peer := "peer-2"

	if err := d.Upsert(Attribute{Handle: 1, PeerAddr: peer, UUID: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := d.ClearPeer(peer); err != nil {
		t.Fatal(err)
	}

	n, err := d.Count(peer)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count after ClearPeer = %d, want 0", n)
	}
}
