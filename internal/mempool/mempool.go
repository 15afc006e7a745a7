// Package mempool holds pending transactions in memory, ordered for
// block proposal by fee and arrival time, deduplicated by transaction
// hash and by an optional client-supplied idempotency key.
package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/batchwriter"
	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/txtypes"
)

const maxAge = 24 * time.Hour

// Mempool is the node's pending-transaction pool. Safe for concurrent use.
type Mempool struct {
	mu sync.RWMutex

	byID         map[uuid.UUID]*txtypes.MempoolEntry
	hashToID     map[string]uuid.UUID
	idempToID    map[string]uuid.UUID

	writer *batchwriter.Writer
}

// New builds an empty Mempool backed by writer for durable persistence.
func New(writer *batchwriter.Writer) *Mempool {
	return &Mempool{
		byID:      make(map[uuid.UUID]*txtypes.MempoolEntry),
		hashToID:  make(map[string]uuid.UUID),
		idempToID: make(map[string]uuid.UUID),
		writer:    writer,
	}
}

// Admit adds tx to the pool. It is idempotent: a transaction with a
// tx_hash or idempotency_key already present is reported as a duplicate
// (admitted=false) rather than an error, and the existing entry is left
// untouched.
func (m *Mempool) Admit(tx *txtypes.Transaction, now time.Time) (admitted bool) {
	m.mu.Lock()
	if _, exists := m.hashToID[tx.TxHash]; exists {
		m.mu.Unlock()
		return false
	}
	if tx.Idempotency != "" {
		if _, exists := m.idempToID[tx.Idempotency]; exists {
			m.mu.Unlock()
			return false
		}
	}

	entry := &txtypes.MempoolEntry{Tx: tx, Received: now}
	m.byID[tx.ID] = entry
	m.hashToID[tx.TxHash] = tx.ID
	if tx.Idempotency != "" {
		m.idempToID[tx.Idempotency] = tx.ID
	}
	m.mu.Unlock()

	if m.writer != nil {
		if err := m.writer.Submit(entry); err != nil {
			// Durable persistence is best-effort from the pool's point of
			// view: the entry stays selectable from memory either way, and
			// a restart before it reaches the relational store would only
			// lose it if it was never rehydrated — an accepted tradeoff
			// of the bounded submit channel.
			_ = err
		}
	}
	return true
}

// Contains reports whether a transaction with the given hash is pending.
func (m *Mempool) Contains(txHash string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hashToID[txHash]
	return ok
}

// Size returns the number of pending transactions, including those aged
// past selection eligibility.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Get returns the pending transaction with the given id, if any.
func (m *Mempool) Get(id uuid.UUID) (*txtypes.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e.Tx, true
}

// GetByIdempotency returns the pending transaction admitted under the
// given client idempotency key, if any.
func (m *Mempool) GetByIdempotency(key string) (*txtypes.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idempToID[key]
	if !ok {
		return nil, false
	}
	return m.byID[id].Tx, true
}

// GetByHash returns the pending transaction with the given hash, if any.
func (m *Mempool) GetByHash(hash string) (*txtypes.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.hashToID[hash]
	if !ok {
		return nil, false
	}
	return m.byID[id].Tx, true
}

// Recent returns up to limit entries, most recently received first, for
// the GET /mempool endpoint.
func (m *Mempool) Recent(limit int) []*txtypes.Transaction {
	m.mu.RLock()
	entries := make([]*txtypes.MempoolEntry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Received.After(entries[j].Received)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*txtypes.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.Tx
	}
	return out
}

// PopForBlock selects up to limit transactions for the leader's next
// proposal: entries older than 24h are dropped from consideration (but
// not removed from the pool — only Remove, called on commit, does that),
// the remainder sorted by fee descending then arrival time ascending.
// Selection never mutates the pool, so a proposal that is never committed
// leaves every candidate transaction available for the next attempt.
func (m *Mempool) PopForBlock(limit int, now time.Time) []*txtypes.Transaction {
	m.mu.RLock()
	entries := make([]*txtypes.MempoolEntry, 0, len(m.byID))
	for _, e := range m.byID {
		if now.Sub(e.Received) > maxAge {
			continue
		}
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Tx.Fee != entries[j].Tx.Fee {
			return entries[i].Tx.Fee > entries[j].Tx.Fee
		}
		return entries[i].Received.Before(entries[j].Received)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*txtypes.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.Tx
	}
	return out
}

// Remove evicts the given transactions from the pool, called once their
// containing block has committed.
func (m *Mempool) Remove(ids []uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		entry, ok := m.byID[id]
		if !ok {
			continue
		}
		delete(m.byID, id)
		delete(m.hashToID, entry.Tx.TxHash)
		if entry.Tx.Idempotency != "" {
			delete(m.idempToID, entry.Tx.Idempotency)
		}
	}
}

// Rehydrate repopulates the pool from the kvstore's mempool: namespace,
// called once at startup before the API and consensus layers start.
func (m *Mempool) Rehydrate(store *kvstore.Store) error {
	entries, err := store.ScanPrefix(kvstore.MempoolPrefix())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range entries {
		entry, err := batchwriter.UnmarshalEntry(kv.Value)
		if err != nil {
			continue
		}
		m.byID[entry.Tx.ID] = entry
		m.hashToID[entry.Tx.TxHash] = entry.Tx.ID
		if entry.Tx.Idempotency != "" {
			m.idempToID[entry.Tx.Idempotency] = entry.Tx.ID
		}
	}
	return nil
}
