package relstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certen/ledgernode/internal/txtypes"
)

// EvidenceRepository persists equivocation evidence detected by the
// consensus layer. Evidence is immutable once recorded.
type EvidenceRepository struct {
	db *sql.DB
}

func NewEvidenceRepository(db *sql.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// Insert records ev, tolerating a duplicate report of the same
// (validator, view, conflicting_hash) triple.
func (r *EvidenceRepository) Insert(ctx context.Context, ev *txtypes.EquivocationEvidence) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO evidence (id, validator_id, view, existing_hash, conflicting_hash, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (validator_id, view, conflicting_hash) DO NOTHING`,
		ev.ID, ev.ValidatorID, ev.View, ev.Existing, ev.Conflicting, ev.DetectedAt)
	if err != nil {
		return fmt.Errorf("relstore: insert evidence: %w", err)
	}
	return nil
}

// ListByValidator returns all evidence recorded against validatorID.
func (r *EvidenceRepository) ListByValidator(ctx context.Context, validatorID string) ([]txtypes.EquivocationEvidence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, validator_id, view, existing_hash, conflicting_hash, detected_at
		FROM evidence WHERE validator_id = $1 ORDER BY detected_at`, validatorID)
	if err != nil {
		return nil, fmt.Errorf("relstore: list evidence: %w", err)
	}
	defer rows.Close()

	var out []txtypes.EquivocationEvidence
	for rows.Next() {
		var ev txtypes.EquivocationEvidence
		if err := rows.Scan(&ev.ID, &ev.ValidatorID, &ev.View, &ev.Existing, &ev.Conflicting, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("relstore: scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
