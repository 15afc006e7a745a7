package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MempoolEntryRow mirrors one row of mempool_entries.
type MempoolEntryRow struct {
	TxID       uuid.UUID
	TxHash     string
	Fee        uint64
	ReceivedAt time.Time
}

// MempoolRepository persists the durable record of which transactions are
// currently pending. It is written to by the batch writer, never
// directly by the mempool, so that bulk inserts can be coalesced.
type MempoolRepository struct {
	db *sql.DB
}

func NewMempoolRepository(db *sql.DB) *MempoolRepository {
	return &MempoolRepository{db: db}
}

// BulkUpsert inserts every row as a single multi-row INSERT, skipping any
// whose tx_id is already present.
func (r *MempoolRepository) BulkUpsert(ctx context.Context, rows []MempoolEntryRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO mempool_entries (tx_id, tx_hash, fee, received_at) VALUES ")
	args := make([]interface{}, 0, len(rows)*4)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 4
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4)
		args = append(args, row.TxID, row.TxHash, row.Fee, row.ReceivedAt)
	}
	sb.WriteString(" ON CONFLICT (tx_id) DO NOTHING")

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("relstore: bulk upsert mempool entries: %w", err)
	}
	return nil
}

// DeleteByTxIDs removes the given transactions from the durable mempool
// record, called once their containing block commits.
func (r *MempoolRepository) DeleteByTxIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mempool_entries WHERE tx_id = ANY($1)`, uuidArray(ids)); err != nil {
		return fmt.Errorf("relstore: delete mempool entries: %w", err)
	}
	return nil
}

// ListRecent returns up to limit entries most recently received.
func (r *MempoolRepository) ListRecent(ctx context.Context, limit int) ([]MempoolEntryRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_id, tx_hash, fee, received_at FROM mempool_entries
		ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("relstore: list mempool entries: %w", err)
	}
	defer rows.Close()

	var out []MempoolEntryRow
	for rows.Next() {
		var e MempoolEntryRow
		if err := rows.Scan(&e.TxID, &e.TxHash, &e.Fee, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("relstore: scan mempool entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func uuidArray(ids []uuid.UUID) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(id.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
