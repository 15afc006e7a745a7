package kvstore

import (
	"testing"

	"github.com/google/uuid"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTemp(t)

	key := TxnKey(uuid.New())
	if _, err := s.Get(key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before put, got %v", err)
	}

	if err := s.Put(key, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := s.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("got %q want v1", v)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBatchApplyAtomic(t *testing.T) {
	s := openTemp(t)

	a, b := TxnKey(uuid.New()), TxnKey(uuid.New())
	err := s.BatchApply([]Op{
		PutOp(a, []byte("a")),
		PutOp(b, []byte("b")),
	})
	if err != nil {
		t.Fatalf("batch apply: %v", err)
	}

	for _, k := range [][]byte{a, b} {
		if _, err := s.Get(k); err != nil {
			t.Fatalf("key %q missing after batch: %v", k, err)
		}
	}

	if err := s.BatchApply([]Op{DeleteOp(a), DeleteOp(b)}); err != nil {
		t.Fatalf("batch delete: %v", err)
	}
	for _, k := range [][]byte{a, b} {
		if _, err := s.Get(k); err != ErrNotFound {
			t.Fatalf("key %q should be gone, got %v", k, err)
		}
	}
}

func TestScanPrefix(t *testing.T) {
	s := openTemp(t)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := s.Put(MempoolKey(id), []byte("pending")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := s.Put(TxnKey(uuid.New()), []byte("other namespace")); err != nil {
		t.Fatalf("put: %v", err)
	}

	entries, err := s.ScanPrefix(MempoolPrefix())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != len(ids) {
		t.Fatalf("got %d entries, want %d", len(entries), len(ids))
	}
}

func TestEncodeDecodeHeight(t *testing.T) {
	for _, h := range []uint64{0, 1, 255, 256, 1 << 40} {
		if got := DecodeHeight(EncodeHeight(h)); got != h {
			t.Fatalf("roundtrip %d -> %d", h, got)
		}
	}
}

func TestEncodeHeightPreservesOrder(t *testing.T) {
	lo := EncodeHeight(1)
	hi := EncodeHeight(2)
	if string(lo) >= string(hi) {
		t.Fatal("expected lexicographic order to match numeric order")
	}
}
