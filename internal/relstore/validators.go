package relstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certen/ledgernode/internal/txtypes"
)

// ValidatorRepository persists the consensus validator set, its staked
// amounts and slashing history.
type ValidatorRepository struct {
	db *sql.DB
}

func NewValidatorRepository(db *sql.DB) *ValidatorRepository {
	return &ValidatorRepository{db: db}
}

// List returns every registered validator, ordered by id, which is what
// the consensus layer uses to derive a stable leader-rotation order.
func (r *ValidatorRepository) List(ctx context.Context) ([]txtypes.Validator, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pub_key, stake, slashed, active FROM validator_registry ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("relstore: list validators: %w", err)
	}
	defer rows.Close()

	var out []txtypes.Validator
	for rows.Next() {
		var v txtypes.Validator
		if err := rows.Scan(&v.ID, &v.PubKey, &v.Stake, &v.Slashed, &v.Active); err != nil {
			return nil, fmt.Errorf("relstore: scan validator: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a validator's registration.
func (r *ValidatorRepository) Upsert(ctx context.Context, v *txtypes.Validator) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO validator_registry (id, pub_key, stake, slashed, active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			pub_key = EXCLUDED.pub_key, stake = EXCLUDED.stake,
			slashed = EXCLUDED.slashed, active = EXCLUDED.active`,
		v.ID, v.PubKey, v.Stake, v.Slashed, v.Active)
	if err != nil {
		return fmt.Errorf("relstore: upsert validator: %w", err)
	}
	return nil
}

// Slash increments a validator's slashed stake and deactivates it once
// slashed stake reaches its total stake.
func (r *ValidatorRepository) Slash(ctx context.Context, id string, amount uint64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE validator_registry SET
			slashed = slashed + $2,
			active = (slashed + $2) < stake
		WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("relstore: slash validator: %w", err)
	}
	return nil
}
