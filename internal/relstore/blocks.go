package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/txtypes"
)

// BlockRepository persists committed blocks and their quorum signatures.
type BlockRepository struct {
	db *sql.DB
}

func NewBlockRepository(db *sql.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Insert writes a block row within an already-open transaction: the
// commit pipeline calls this as the first statement of its atomic
// block-commit transaction.
func (r *BlockRepository) Insert(ctx context.Context, tx *sql.Tx, b *txtypes.Block) error {
	sigs, err := json.Marshal(b.Signatures)
	if err != nil {
		return fmt.Errorf("relstore: marshal signatures: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (id, height, parent_ids, merkle_root, tx_count, proposer, signatures, "timestamp")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		b.ID, b.Height, uuidArray(b.ParentIDs), b.MerkleRoot, b.TxCount, b.Proposer, sigs, b.Timestamp)
	if err != nil {
		return fmt.Errorf("relstore: insert block: %w", err)
	}
	return nil
}

// GetByID returns the block with the given id.
func (r *BlockRepository) GetByID(ctx context.Context, id uuid.UUID) (*txtypes.Block, error) {
	var b txtypes.Block
	var sigs []byte
	var parentIDs pqUUIDArray
	err := r.db.QueryRowContext(ctx, `
		SELECT id, height, parent_ids, merkle_root, tx_count, proposer, signatures, "timestamp"
		FROM blocks WHERE id = $1`, id,
	).Scan(&b.ID, &b.Height, &parentIDs, &b.MerkleRoot, &b.TxCount, &b.Proposer, &sigs, &b.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relstore: get block: %w", err)
	}
	b.ParentIDs = parentIDs
	if err := json.Unmarshal(sigs, &b.Signatures); err != nil {
		return nil, fmt.Errorf("relstore: unmarshal signatures: %w", err)
	}
	return &b, nil
}

// LatestHeight returns the highest committed block height, or 0 if none.
func (r *BlockRepository) LatestHeight(ctx context.Context) (uint64, error) {
	var height sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("relstore: latest height: %w", err)
	}
	if !height.Valid {
		return 0, nil
	}
	return uint64(height.Int64), nil
}

// LatestBlock returns the highest committed block, or nil if the chain is
// still at genesis, for a restarting replica to resume proposing from.
func (r *BlockRepository) LatestBlock(ctx context.Context) (*txtypes.Block, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT id FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relstore: latest block: %w", err)
	}
	return r.GetByID(ctx, id)
}

// pqUUIDArray scans a Postgres uuid[] column into a []uuid.UUID.
type pqUUIDArray []uuid.UUID

func (a *pqUUIDArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("relstore: unsupported uuid[] scan type %T", src)
	}
	raw = trimBraces(raw)
	if raw == "" {
		*a = nil
		return nil
	}
	parts := splitCommaList(raw)
	out := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return fmt.Errorf("relstore: parse uuid element %q: %w", p, err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}

func trimBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}
	return s
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
