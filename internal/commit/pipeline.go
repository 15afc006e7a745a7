// Package commit implements the atomic block-commit pipeline: given a
// consensus-finalized block, it writes the block, its transaction index
// and every successful transfer's balance deltas inside a single
// relational transaction, mirrors the result into the KV cache, runs
// deterministic execution to produce receipts, and removes the block's
// transactions from the mempool. Any failure before the relational
// transaction commits aborts the whole block: nothing partial is ever
// visible in blocks, tx_index or balances, and the block's transactions
// remain in the mempool to be proposed again.
package commit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/executor"
	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/mempool"
	"github.com/certen/ledgernode/internal/relstore"
	"github.com/certen/ledgernode/internal/txtypes"
)

// Pipeline is the commit pipeline's composition root: it implements
// consensus.CommitFunc once bound to a replica.
type Pipeline struct {
	db       *sql.DB
	repos    *relstore.Repositories
	kv       *kvstore.Store
	mempool  *mempool.Mempool
	executor *executor.Executor
	logger   *log.Logger
}

// New builds a Pipeline against the given stores.
func New(db *sql.DB, repos *relstore.Repositories, kv *kvstore.Store, mp *mempool.Mempool, exec *executor.Executor, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[commit] ", log.LstdFlags)
	}
	return &Pipeline{db: db, repos: repos, kv: kv, mempool: mp, executor: exec, logger: logger}
}

// Commit is the consensus replica's finalization callback: its signature
// matches consensus.CommitFunc.
func (p *Pipeline) Commit(ctx context.Context, block *txtypes.Block) error {
	txs := make([]*txtypes.Transaction, 0, len(block.TxIDs))
	for _, id := range block.TxIDs {
		tx, ok := p.mempool.Get(id)
		if !ok {
			return fmt.Errorf("commit: transaction %s referenced by block %s not found in mempool", id, block.ID)
		}
		txs = append(txs, tx)
	}

	// In lightweight storage mode (STORAGE_MODE=rocks*) there is no
	// relational store and the KV cache is the only durable record; the
	// relational transaction is skipped and the mirror below carries the
	// block.
	if p.db != nil {
		dbTx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("commit: begin transaction: %w", err)
		}

		if err := p.applyWithinTx(ctx, dbTx, block, txs); err != nil {
			if rbErr := dbTx.Rollback(); rbErr != nil {
				p.logger.Printf("rollback after failed commit of block %s: %v", block.ID, rbErr)
			}
			return fmt.Errorf("commit: block %s aborted, transactions remain in mempool: %w", block.ID, err)
		}
		if err := dbTx.Commit(); err != nil {
			return fmt.Errorf("commit: block %s commit failed, transactions remain in mempool: %w", block.ID, err)
		}
	}

	// From here the block is final. Execution, the KV mirror and mempool
	// eviction are all derived from it; a failure in any of them is logged
	// and is neither retried nor unwound, and Commit still returns nil.
	p.executeAndPersistReceipts(block, txs)

	if err := p.mirrorToKV(block, txs); err != nil {
		p.logger.Printf("mirror block %s to kv cache: %v", block.ID, err)
	}
	if err := p.applyBalanceDeltasKV(txs); err != nil {
		p.logger.Printf("mirror balance deltas for block %s to kv cache: %v", block.ID, err)
	}

	ids := make([]uuid.UUID, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	p.mempool.Remove(ids)
	if err := p.evictFromMempoolKV(ids); err != nil {
		p.logger.Printf("evict committed transactions from kv mempool namespace: %v", err)
	}

	p.logger.Printf("committed block %s height=%d txs=%d", block.ID, block.Height, len(txs))
	return nil
}

// applyWithinTx writes the block row, tx_index rows and balance deltas of
// every plain value transfer, plus a bookkeeping reward row crediting the
// proposer with the fees of those transfers (contract invocations are
// skipped and contribute no fee). Fees are never added back to any
// account's balance: a transfer's system-wide balance delta is exactly
// -(amount+fee)+amount = -fee, so fees leave the live balance ledger and
// are only recorded in rewards_history.
func (p *Pipeline) applyWithinTx(ctx context.Context, dbTx *sql.Tx, block *txtypes.Block, txs []*txtypes.Transaction) error {
	if err := p.repos.Blocks.Insert(ctx, dbTx, block); err != nil {
		return err
	}

	var totalFees uint64
	for i, tx := range txs {
		row := relstore.TxIndexRow{TxHash: tx.TxHash, TxID: tx.ID, BlockID: block.ID, Position: i}
		if err := p.repos.TxIndex.UpsertTx(ctx, dbTx, row); err != nil {
			return err
		}

		if len(tx.Payload) != 0 {
			// Contract invocations (e.g. SBT mint/revoke) carry no value
			// transfer; their effects are applied by the executor below,
			// outside the balance ledger.
			continue
		}
		if err := p.repos.Balances.ApplyDelta(ctx, dbTx, tx.Sender, -int64(tx.Amount+tx.Fee)); err != nil {
			return err
		}
		if err := p.repos.Balances.ApplyDelta(ctx, dbTx, tx.Recipient, int64(tx.Amount)); err != nil {
			return err
		}
		totalFees += tx.Fee
	}

	if totalFees > 0 {
		if err := p.repos.Rewards.Insert(ctx, dbTx, block.Proposer, block.Height, totalFees); err != nil {
			return err
		}
	}
	return nil
}

// executeAndPersistReceipts runs deterministic execution for every
// transaction in the block, in block order, persisting each receipt to
// the KV cache. A single transaction's execution fault is logged and
// skipped rather than aborting the whole (already-committed) block.
func (p *Pipeline) executeAndPersistReceipts(block *txtypes.Block, txs []*txtypes.Transaction) {
	for _, tx := range txs {
		receipt, err := p.executor.Execute(tx, block.ID)
		if err != nil {
			p.logger.Printf("execute transaction %s in block %s: %v", tx.ID, block.ID, err)
			continue
		}
		if err := p.executor.PersistReceipt(receipt); err != nil {
			p.logger.Printf("persist receipt for transaction %s: %v", tx.ID, err)
		}
	}
}

// mirrorToKV writes the committed block and its tx_index entries into the
// local KV cache as one atomic batch, matching the relational store's
// content. GET /block reads blocks from this mirror, and in lightweight
// storage mode it is the only durable record of the block.
func (p *Pipeline) mirrorToKV(block *txtypes.Block, txs []*txtypes.Transaction) error {
	blockData, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("commit: marshal block for kv mirror: %w", err)
	}

	ops := make([]kvstore.Op, 0, len(txs)+2)
	ops = append(ops, kvstore.PutOp(kvstore.BlockKey(block.ID), blockData))

	for i, tx := range txs {
		idx := txIndexRecord{TxID: tx.ID, BlockID: block.ID, Position: i}
		data, err := json.Marshal(idx)
		if err != nil {
			return fmt.Errorf("commit: marshal tx_index for kv mirror: %w", err)
		}
		ops = append(ops, kvstore.PutOp(kvstore.TxIndexKey(tx.TxHash), data))
	}

	latest := kvstore.EncodeHeight(block.Height)
	ops = append(ops, kvstore.PutOp(kvstore.LatestHeightKey(), latest))
	ops = append(ops, kvstore.PutOp(kvstore.LatestBlockKey(), []byte(block.ID.String())))

	return p.kv.BatchApply(ops)
}

// applyBalanceDeltasKV mirrors each plain value transfer's balance deltas
// into the KV cache's balance: namespace. In full storage mode this is a
// non-authoritative copy of the relational balances table; in lightweight
// mode it is the only balance record.
func (p *Pipeline) applyBalanceDeltasKV(txs []*txtypes.Transaction) error {
	for _, tx := range txs {
		if len(tx.Payload) != 0 {
			continue
		}
		if err := p.adjustBalanceKV(tx.Sender, -int64(tx.Amount+tx.Fee)); err != nil {
			return err
		}
		if err := p.adjustBalanceKV(tx.Recipient, int64(tx.Amount)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) adjustBalanceKV(address string, delta int64) error {
	key := kvstore.BalanceKey(address)
	bal := txtypes.Balance{Address: address}

	raw, err := p.kv.Get(key)
	if err != nil && err != kvstore.ErrNotFound {
		return err
	}
	if err == nil {
		if err := json.Unmarshal(raw, &bal); err != nil {
			return fmt.Errorf("commit: decode balance for %s: %w", address, err)
		}
	}

	bal.Amount += delta
	data, err := json.Marshal(bal)
	if err != nil {
		return err
	}
	return p.kv.Put(key, data)
}

// evictFromMempoolKV durably removes the committed transactions' pending
// entries from the KV cache's mempool: namespace so a restart does not
// rehydrate already-finalized transactions back into the pool.
func (p *Pipeline) evictFromMempoolKV(ids []uuid.UUID) error {
	ops := make([]kvstore.Op, len(ids))
	for i, id := range ids {
		ops[i] = kvstore.DeleteOp(kvstore.MempoolKey(id))
	}
	return p.kv.BatchApply(ops)
}

// txIndexRecord is the KV-mirrored shape of a tx_index row.
type txIndexRecord struct {
	TxID     uuid.UUID `json:"tx_id"`
	BlockID  uuid.UUID `json:"block_id"`
	Position int       `json:"position"`
}
