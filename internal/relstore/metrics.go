package relstore

import (
	"context"
	"database/sql"
	"fmt"
)

// NodeMetricsSnapshot is one periodic sample of node state, recorded for
// the GET /health/detailed endpoint and for offline analysis.
type NodeMetricsSnapshot struct {
	MempoolSize   int
	PeerCount     int
	ConsensusView uint64
	LatestHeight  uint64
}

// MetricsRepository persists node metrics snapshots.
type MetricsRepository struct {
	db *sql.DB
}

func NewMetricsRepository(db *sql.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Insert records one snapshot.
func (r *MetricsRepository) Insert(ctx context.Context, s NodeMetricsSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO node_metrics (mempool_size, peer_count, consensus_view, latest_height)
		VALUES ($1,$2,$3,$4)`,
		s.MempoolSize, s.PeerCount, s.ConsensusView, s.LatestHeight)
	if err != nil {
		return fmt.Errorf("relstore: insert node metrics: %w", err)
	}
	return nil
}

// Latest returns the most recently recorded snapshot.
func (r *MetricsRepository) Latest(ctx context.Context) (*NodeMetricsSnapshot, error) {
	var s NodeMetricsSnapshot
	err := r.db.QueryRowContext(ctx, `
		SELECT mempool_size, peer_count, consensus_view, latest_height
		FROM node_metrics ORDER BY recorded_at DESC LIMIT 1`,
	).Scan(&s.MempoolSize, &s.PeerCount, &s.ConsensusView, &s.LatestHeight)
	if err == sql.ErrNoRows {
		return &NodeMetricsSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relstore: latest node metrics: %w", err)
	}
	return &s, nil
}
