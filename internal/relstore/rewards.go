package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RewardRepository records per-block proposer rewards.
type RewardRepository struct {
	db *sql.DB
}

func NewRewardRepository(db *sql.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

// Insert records a reward paid to validatorID for proposing blockHeight,
// within the commit pipeline's block transaction.
func (r *RewardRepository) Insert(ctx context.Context, tx *sql.Tx, validatorID string, blockHeight uint64, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rewards_history (id, validator_id, block_height, amount, awarded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		uuid.New(), validatorID, blockHeight, amount, time.Now())
	if err != nil {
		return fmt.Errorf("relstore: insert reward: %w", err)
	}
	return nil
}

// TotalForValidator sums all rewards paid to validatorID.
func (r *RewardRepository) TotalForValidator(ctx context.Context, validatorID string) (uint64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM rewards_history WHERE validator_id = $1`, validatorID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("relstore: sum rewards: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return uint64(total.Int64), nil
}
