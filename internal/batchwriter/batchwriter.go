// Package batchwriter buffers admitted mempool entries behind a bounded
// channel and flushes them to the relational store in bulk, so that
// admission never blocks on a round trip to Postgres.
package batchwriter

import (
	"context"
	"log"
	"time"

	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/relstore"
	"github.com/certen/ledgernode/internal/txtypes"
)

const (
	channelCapacity = 10000
	flushSize       = 500
	flushInterval   = 100 * time.Millisecond
)

// Writer accepts admitted transactions over a bounded channel and flushes
// them to the relational store and KV cache in batches.
type Writer struct {
	submit chan *txtypes.MempoolEntry
	stopCh chan struct{}
	doneCh chan struct{}

	txRepo *relstore.TransactionRepository
	repo   *relstore.MempoolRepository
	kv     *kvstore.Store
	logger *log.Logger
}

// New builds a Writer. Call Run to start its background worker. txRepo and
// repo are nil in lightweight storage mode; flush then skips the
// relational upserts and writes to the KV store only.
func New(txRepo *relstore.TransactionRepository, repo *relstore.MempoolRepository, kv *kvstore.Store, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(log.Writer(), "[batchwriter] ", log.LstdFlags)
	}
	return &Writer{
		submit: make(chan *txtypes.MempoolEntry, channelCapacity),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		txRepo: txRepo,
		repo:   repo,
		kv:     kv,
		logger: logger,
	}
}

// Submit enqueues entry for durable persistence without blocking the
// caller: if the channel is full, the entry is dropped and an error is
// returned so the caller can decide whether to retry or surface backpressure.
func (w *Writer) Submit(entry *txtypes.MempoolEntry) error {
	select {
	case w.submit <- entry:
		return nil
	default:
		return errFull
	}
}

var errFull = &fullError{}

type fullError struct{}

func (*fullError) Error() string { return "batchwriter: submit channel full" }

// Run starts the single background worker. It returns once ctx is
// canceled or Stop is called, after flushing any remaining buffered
// entries.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var pending []*txtypes.MempoolEntry

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if w.flush(ctx, pending) {
			pending = pending[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.stopCh:
			flush()
			return
		case entry := <-w.submit:
			pending = append(pending, entry)
			if len(pending) >= flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Stop signals the worker to flush and exit, and waits for it to finish.
func (w *Writer) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// flush bulk-upserts pending into the relational store — first the
// authoritative transactions table, then the mempool mirror table whose
// tx_id foreign key depends on it — then persists each entry individually
// to the KV cache. It reports whether the batch may be cleared: a
// relational failure returns false so the worker retains the batch and
// retries it on the next flush window, while a KV failure still returns
// true (the relational store is authoritative; the cache miss only costs
// a rehydration gap after a restart).
func (w *Writer) flush(ctx context.Context, pending []*txtypes.MempoolEntry) bool {
	txs := make([]*txtypes.Transaction, 0, len(pending))
	rows := make([]relstore.MempoolEntryRow, 0, len(pending))
	for _, e := range pending {
		txs = append(txs, e.Tx)
		rows = append(rows, relstore.MempoolEntryRow{
			TxID:       e.Tx.ID,
			TxHash:     e.Tx.TxHash,
			Fee:        e.Tx.Fee,
			ReceivedAt: e.Received,
		})
	}

	// Both repositories are nil in lightweight storage mode; persistence is
	// KV-only there.
	if w.txRepo != nil {
		if err := w.txRepo.BulkUpsert(ctx, txs); err != nil {
			w.logger.Printf("relational bulk upsert of transactions failed, will retry next flush: %v", err)
			return false
		}
	}
	if w.repo != nil {
		if err := w.repo.BulkUpsert(ctx, rows); err != nil {
			w.logger.Printf("relational bulk upsert of mempool entries failed, will retry next flush: %v", err)
			return false
		}
	}

	for _, e := range pending {
		if err := w.persistToKV(e); err != nil {
			w.logger.Printf("kv persist failed for tx %s: %v", e.Tx.ID, err)
		}
	}
	return true
}

func (w *Writer) persistToKV(e *txtypes.MempoolEntry) error {
	data, err := marshalEntry(e)
	if err != nil {
		return err
	}
	return w.kv.Put(kvstore.MempoolKey(e.Tx.ID), data)
}
