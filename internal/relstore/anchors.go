package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Anchor is a periodic external commitment of a block's Merkle root,
// recorded for audit purposes.
type Anchor struct {
	ID         uuid.UUID
	Height     uint64
	MerkleRoot string
	Target     string
	AnchoredAt time.Time
}

// AnchorRepository records anchor commitments.
type AnchorRepository struct {
	db *sql.DB
}

func NewAnchorRepository(db *sql.DB) *AnchorRepository {
	return &AnchorRepository{db: db}
}

// Insert records a new anchor commitment.
func (r *AnchorRepository) Insert(ctx context.Context, a *Anchor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO anchors (id, height, merkle_root, target, anchored_at)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.Height, a.MerkleRoot, a.Target, a.AnchoredAt)
	if err != nil {
		return fmt.Errorf("relstore: insert anchor: %w", err)
	}
	return nil
}

// ListByHeight returns all anchors recorded for a given block height.
func (r *AnchorRepository) ListByHeight(ctx context.Context, height uint64) ([]Anchor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, height, merkle_root, target, anchored_at FROM anchors WHERE height = $1`, height)
	if err != nil {
		return nil, fmt.Errorf("relstore: list anchors: %w", err)
	}
	defer rows.Close()

	var out []Anchor
	for rows.Next() {
		var a Anchor
		if err := rows.Scan(&a.ID, &a.Height, &a.MerkleRoot, &a.Target, &a.AnchoredAt); err != nil {
			return nil, fmt.Errorf("relstore: scan anchor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
