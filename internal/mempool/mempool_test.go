package mempool

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/txtypes"
)

func newTx(hash string, fee uint64) *txtypes.Transaction {
	return &txtypes.Transaction{ID: uuid.New(), TxHash: hash, Fee: fee}
}

func TestAdmitDedupesByHash(t *testing.T) {
	m := New(nil)
	now := time.Now()

	if !m.Admit(newTx("h1", 10), now) {
		t.Fatal("first admission should succeed")
	}
	if m.Admit(newTx("h1", 20), now) {
		t.Fatal("duplicate tx_hash must be rejected")
	}
	if m.Size() != 1 {
		t.Fatalf("size = %d, want 1", m.Size())
	}
}

func TestAdmitDedupesByIdempotencyKey(t *testing.T) {
	m := New(nil)
	now := time.Now()

	a := newTx("h1", 10)
	a.Idempotency = "key-1"
	b := newTx("h2", 10)
	b.Idempotency = "key-1"

	if !m.Admit(a, now) {
		t.Fatal("first admission should succeed")
	}
	if m.Admit(b, now) {
		t.Fatal("duplicate idempotency key must be rejected")
	}
}

func TestPopForBlockOrdersByFeeThenArrival(t *testing.T) {
	m := New(nil)
	now := time.Now()

	low := newTx("low", 1)
	high := newTx("high", 100)
	mid1 := newTx("mid1", 50)
	mid2 := newTx("mid2", 50)

	m.Admit(low, now)
	m.Admit(high, now.Add(time.Second))
	m.Admit(mid1, now.Add(2*time.Second))
	m.Admit(mid2, now.Add(3*time.Second))

	got := m.PopForBlock(10, now.Add(time.Hour))
	want := []string{"high", "mid1", "mid2", "low"}
	if len(got) != len(want) {
		t.Fatalf("got %d txs, want %d", len(got), len(want))
	}
	for i, h := range want {
		if got[i].TxHash != h {
			t.Fatalf("position %d: got %s want %s", i, got[i].TxHash, h)
		}
	}
}

func TestPopForBlockDropsStaleButDoesNotRemove(t *testing.T) {
	m := New(nil)
	start := time.Now()

	stale := newTx("stale", 5)
	m.Admit(stale, start)

	got := m.PopForBlock(10, start.Add(25*time.Hour))
	if len(got) != 0 {
		t.Fatalf("stale tx should not be selected, got %d", len(got))
	}
	if m.Size() != 1 {
		t.Fatal("selection must not remove stale entries from the pool")
	}
	if !m.Contains("stale") {
		t.Fatal("stale entry should still be present until explicitly removed")
	}
}

func TestPopForBlockRespectsLimit(t *testing.T) {
	m := New(nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.Admit(newTx(uuid.NewString(), uint64(i)), now)
	}
	got := m.PopForBlock(2, now)
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
}

func TestRemoveEvicts(t *testing.T) {
	m := New(nil)
	now := time.Now()
	tx := newTx("h1", 10)
	m.Admit(tx, now)

	m.Remove([]uuid.UUID{tx.ID})

	if m.Size() != 0 {
		t.Fatal("removed entry should no longer be counted")
	}
	if m.Contains("h1") {
		t.Fatal("removed entry's hash should no longer be resolvable")
	}
}
