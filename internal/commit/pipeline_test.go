package commit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/executor"
	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/mempool"
	"github.com/certen/ledgernode/internal/txtypes"
)

// newTestPipeline builds a Pipeline whose db/repos are nil: only the
// KV-mirror and execution paths (which never touch the relational store)
// are exercised by these tests.
func newTestPipeline(t *testing.T) (*Pipeline, *kvstore.Store) {
	t.Helper()
	kv, err := kvstore.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("open kvstore: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	mp := mempool.New(nil)
	exec := executor.New(kv)
	return New(nil, nil, kv, mp, exec, nil), kv
}

func sampleBlock(txs []*txtypes.Transaction) *txtypes.Block {
	ids := make([]uuid.UUID, len(txs))
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
		hashes[i] = tx.TxHash
	}
	return &txtypes.Block{
		ID:        uuid.New(),
		Height:    1,
		TxCount:   len(txs),
		TxIDs:     ids,
		TxHashes:  hashes,
		Proposer:  "v0",
		Timestamp: time.Now().UTC(),
	}
}

func TestCommitWithoutRelationalStore(t *testing.T) {
	kv, err := kvstore.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("open kvstore: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	mp := mempool.New(nil)
	exec := executor.New(kv)
	p := New(nil, nil, kv, mp, exec, nil)

	tx := &txtypes.Transaction{ID: uuid.New(), TxHash: "ff01", Sender: "alice", Recipient: "bob", Amount: 10, Fee: 2}
	if !mp.Admit(tx, time.Now()) {
		t.Fatal("admit should succeed")
	}
	block := sampleBlock([]*txtypes.Transaction{tx})

	if err := p.Commit(context.Background(), block); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := kv.Get(kvstore.BlockKey(block.ID)); err != nil {
		t.Fatalf("expected block in kv: %v", err)
	}
	if _, err := kv.Get(kvstore.ReceiptKey(tx.ID)); err != nil {
		t.Fatalf("expected receipt in kv: %v", err)
	}
	if mp.Size() != 0 {
		t.Fatalf("expected committed transaction evicted from mempool, size=%d", mp.Size())
	}

	latest, err := kv.Get(kvstore.LatestHeightKey())
	if err != nil {
		t.Fatalf("latest height: %v", err)
	}
	if kvstore.DecodeHeight(latest) != block.Height {
		t.Fatalf("latest height = %d, want %d", kvstore.DecodeHeight(latest), block.Height)
	}

	var sender, recipient txtypes.Balance
	raw, err := kv.Get(kvstore.BalanceKey("alice"))
	if err != nil {
		t.Fatalf("sender balance: %v", err)
	}
	if err := json.Unmarshal(raw, &sender); err != nil {
		t.Fatalf("decode sender balance: %v", err)
	}
	if sender.Amount != -12 {
		t.Fatalf("sender balance = %d, want -12 (amount+fee)", sender.Amount)
	}
	raw, err = kv.Get(kvstore.BalanceKey("bob"))
	if err != nil {
		t.Fatalf("recipient balance: %v", err)
	}
	if err := json.Unmarshal(raw, &recipient); err != nil {
		t.Fatalf("decode recipient balance: %v", err)
	}
	if recipient.Amount != 10 {
		t.Fatalf("recipient balance = %d, want 10", recipient.Amount)
	}
}

func TestMirrorToKVWritesBlockAndTxIndex(t *testing.T) {
	p, kv := newTestPipeline(t)
	txs := []*txtypes.Transaction{
		{ID: uuid.New(), TxHash: "aa01", Sender: "alice", Recipient: "bob", Amount: 10},
	}
	block := sampleBlock(txs)

	if err := p.mirrorToKV(block, txs); err != nil {
		t.Fatalf("mirrorToKV: %v", err)
	}

	if _, err := kv.Get(kvstore.BlockKey(block.ID)); err != nil {
		t.Fatalf("expected block to be mirrored: %v", err)
	}
	if _, err := kv.Get(kvstore.TxIndexKey("aa01")); err != nil {
		t.Fatalf("expected tx_index to be mirrored: %v", err)
	}
	latest, err := kv.Get(kvstore.LatestHeightKey())
	if err != nil {
		t.Fatalf("expected latest height to be set: %v", err)
	}
	if kvstore.DecodeHeight(latest) != block.Height {
		t.Fatalf("latest height = %d, want %d", kvstore.DecodeHeight(latest), block.Height)
	}
}

func TestEvictFromMempoolKVRemovesEntries(t *testing.T) {
	p, kv := newTestPipeline(t)
	id := uuid.New()
	if err := kv.Put(kvstore.MempoolKey(id), []byte("{}")); err != nil {
		t.Fatalf("seed mempool entry: %v", err)
	}

	if err := p.evictFromMempoolKV([]uuid.UUID{id}); err != nil {
		t.Fatalf("evictFromMempoolKV: %v", err)
	}

	if _, err := kv.Get(kvstore.MempoolKey(id)); err != kvstore.ErrNotFound {
		t.Fatalf("expected mempool entry to be evicted, got err=%v", err)
	}
}

func TestExecuteAndPersistReceiptsWritesReceipts(t *testing.T) {
	p, kv := newTestPipeline(t)
	tx := &txtypes.Transaction{ID: uuid.New(), TxHash: "cc03", Sender: "alice", Recipient: "bob", Amount: 5}
	block := sampleBlock([]*txtypes.Transaction{tx})

	p.executeAndPersistReceipts(block, []*txtypes.Transaction{tx})

	data, err := kv.Get(kvstore.ReceiptKey(tx.ID))
	if err != nil {
		t.Fatalf("expected a persisted receipt: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty receipt payload")
	}
}
