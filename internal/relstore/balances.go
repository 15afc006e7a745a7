package relstore

import (
	"context"
	"database/sql"
	"fmt"
)

// BalanceRepository tracks each address's signed running balance.
type BalanceRepository struct {
	db *sql.DB
}

func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// ApplyDelta adds delta to address's balance within tx, inserting a zero
// row first if the address has never been seen. Called once per transfer
// inside the commit pipeline's whole-block transaction, so a mid-block
// failure rolls every prior delta in the block back too.
func (r *BalanceRepository) ApplyDelta(ctx context.Context, tx *sql.Tx, address string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (address, amount) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		address, delta)
	if err != nil {
		return fmt.Errorf("relstore: apply balance delta: %w", err)
	}
	return nil
}

// Get returns address's balance, or 0 if the address has never been seen.
func (r *BalanceRepository) Get(ctx context.Context, address string) (int64, error) {
	var amount int64
	err := r.db.QueryRowContext(ctx, `SELECT amount FROM balances WHERE address = $1`, address).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("relstore: get balance: %w", err)
	}
	return amount, nil
}
