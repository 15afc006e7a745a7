package relstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// TxIndexRow maps a transaction hash to its containing block and position.
type TxIndexRow struct {
	TxHash   string
	TxID     uuid.UUID
	BlockID  uuid.UUID
	Position int
}

// TxIndexRepository supports the GET /tx/hash/:hash and GET /proof/:tx
// lookups.
type TxIndexRepository struct {
	db *sql.DB
}

func NewTxIndexRepository(db *sql.DB) *TxIndexRepository {
	return &TxIndexRepository{db: db}
}

// UpsertTx executes within an already-open transaction (the commit
// pipeline's tx), inserting the index row or skipping if it already
// exists (re-commit of a block whose index rows were already written).
func (r *TxIndexRepository) UpsertTx(ctx context.Context, tx *sql.Tx, row TxIndexRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tx_index (tx_hash, tx_id, block_id, position)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tx_hash) DO NOTHING`,
		row.TxHash, row.TxID, row.BlockID, row.Position)
	if err != nil {
		return fmt.Errorf("relstore: upsert tx_index: %w", err)
	}
	return nil
}

// GetByHash returns the index entry for tx hash.
func (r *TxIndexRepository) GetByHash(ctx context.Context, hash string) (*TxIndexRow, error) {
	var row TxIndexRow
	err := r.db.QueryRowContext(ctx, `
		SELECT tx_hash, tx_id, block_id, position FROM tx_index WHERE tx_hash = $1`, hash,
	).Scan(&row.TxHash, &row.TxID, &row.BlockID, &row.Position)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relstore: get tx_index: %w", err)
	}
	return &row, nil
}
