package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/txtypes"
)

// TransactionRepository persists the canonical, immutable-once-admitted
// transaction record.
type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert records tx. Conflicts on tx_hash or (sender, chain_id, nonce) are
// left to the caller to detect via the returned error, since admission is
// supposed to have already deduplicated.
func (r *TransactionRepository) Insert(ctx context.Context, tx *txtypes.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions
			(id, tx_hash, sender, recipient, amount, fee, chain_id, nonce,
			 signature, public_key, payload, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		tx.ID, tx.TxHash, tx.Sender, tx.Recipient, tx.Amount, tx.Fee, tx.ChainID, tx.Nonce,
		tx.Signature, tx.PublicKey, nullableJSON(tx.Payload), nullableStr(tx.Idempotency), tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("relstore: insert transaction: %w", err)
	}
	return nil
}

// BulkUpsert inserts every transaction, skipping any whose id is already
// present. Called by the batch writer as the first step of a flush,
// so the mempool_entries rows it upserts next satisfy their foreign key.
func (r *TransactionRepository) BulkUpsert(ctx context.Context, txs []*txtypes.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO transactions
		(id, tx_hash, sender, recipient, amount, fee, chain_id, nonce,
		 signature, public_key, payload, idempotency_key, created_at)
		VALUES `)
	args := make([]interface{}, 0, len(txs)*13)
	for i, tx := range txs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 13
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12, base+13)
		args = append(args, tx.ID, tx.TxHash, tx.Sender, tx.Recipient, tx.Amount, tx.Fee, tx.ChainID, tx.Nonce,
			tx.Signature, tx.PublicKey, nullableJSON(tx.Payload), nullableStr(tx.Idempotency), tx.CreatedAt)
	}
	// No conflict target: a duplicate tx_hash and a duplicate
	// (sender, chain_id, nonce) are both skipped, so one conflicting row
	// can never wedge the batch writer's retry loop.
	sb.WriteString(" ON CONFLICT DO NOTHING")

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("relstore: bulk upsert transactions: %w", err)
	}
	return nil
}

// GetByID returns the transaction with the given id.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*txtypes.Transaction, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectTxSQL+" WHERE id = $1", id))
}

// GetByHash returns the transaction with the given tx_hash.
func (r *TransactionRepository) GetByHash(ctx context.Context, hash string) (*txtypes.Transaction, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectTxSQL+" WHERE tx_hash = $1", hash))
}

// GetByIdempotencyKey returns the transaction previously admitted under
// the given client idempotency key, for the /tx/submit at-most-once check.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*txtypes.Transaction, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectTxSQL+" WHERE idempotency_key = $1", key))
}

const selectTxSQL = `
	SELECT id, tx_hash, sender, recipient, amount, fee, chain_id, nonce,
	       signature, public_key, payload, idempotency_key, created_at
	FROM transactions`

func (r *TransactionRepository) scanOne(row *sql.Row) (*txtypes.Transaction, error) {
	var tx txtypes.Transaction
	var payload, idempotency sql.NullString
	err := row.Scan(
		&tx.ID, &tx.TxHash, &tx.Sender, &tx.Recipient, &tx.Amount, &tx.Fee, &tx.ChainID, &tx.Nonce,
		&tx.Signature, &tx.PublicKey, &payload, &idempotency, &tx.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relstore: scan transaction: %w", err)
	}
	if payload.Valid {
		tx.Payload = []byte(payload.String)
	}
	tx.Idempotency = idempotency.String
	return &tx, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
