package batchwriter

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/txtypes"
)

func TestMarshalEntryRoundTripsThroughKV(t *testing.T) {
	store, err := kvstore.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("open kvstore: %v", err)
	}
	defer store.Close()

	entry := &txtypes.MempoolEntry{
		Tx: &txtypes.Transaction{
			ID:     uuid.New(),
			TxHash: "deadbeef",
			Fee:    10,
		},
		Received: time.Now(),
	}

	data, err := marshalEntry(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Put(kvstore.MempoolKey(entry.Tx.ID), data); err != nil {
		t.Fatalf("put: %v", err)
	}

	raw, err := store.Get(kvstore.MempoolKey(entry.Tx.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := unmarshalEntry(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Tx.TxHash != entry.Tx.TxHash {
		t.Fatalf("got %q want %q", got.Tx.TxHash, entry.Tx.TxHash)
	}
}

func TestSubmitReturnsErrorWhenFull(t *testing.T) {
	w := New(nil, nil, nil, nil)
	// Fill the channel directly to avoid starting the worker.
	for i := 0; i < channelCapacity; i++ {
		w.submit <- &txtypes.MempoolEntry{Tx: &txtypes.Transaction{ID: uuid.New()}}
	}
	if err := w.Submit(&txtypes.MempoolEntry{Tx: &txtypes.Transaction{ID: uuid.New()}}); err == nil {
		t.Fatal("expected error when channel is full")
	}
}
