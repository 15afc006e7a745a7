package api

import (
	"context"
	"net/http"
	"time"

	"github.com/certen/ledgernode/internal/relstore"
)

// handleHealth implements GET /health: a cheap liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}

	if s.dbClient == nil {
		writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
			"status": "ok", "storage": "lightweight",
			"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.dbClient.Ping(ctx); err != nil {
		writeJSON(w, s.logger, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy", "error": err.Error(),
		})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"status": "ok", "uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleHealthDetailed implements GET /health/detailed: database ping,
// connection pool stats, mempool size, peer count, and TLS/auth status.
// Each successful call also records a node_metrics snapshot.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var dbErr error
	dbStatus := "ok"
	database := map[string]interface{}{"status": "disabled"}
	if s.dbClient != nil {
		dbErr = s.dbClient.Ping(ctx)
		if dbErr != nil {
			dbStatus = dbErr.Error()
		}
		poolStats := s.dbClient.DB().Stats()
		database = map[string]interface{}{
			"status":           dbStatus,
			"open_connections": poolStats.OpenConnections,
			"in_use":           poolStats.InUse,
			"idle":             poolStats.Idle,
		}
	}

	peerCount := 0
	if s.peers != nil {
		peerCount = len(s.peers.PeerStore().Snapshot())
	}

	var view uint64
	if s.replica != nil {
		view = s.replica.View()
	}
	if dbErr == nil && s.repos != nil {
		latestHeight, err := s.repos.Blocks.LatestHeight(ctx)
		if err != nil {
			s.logger.Printf("latest height for metrics snapshot: %v", err)
		}
		snapshot := relstore.NodeMetricsSnapshot{
			MempoolSize:   s.mempool.Size(),
			PeerCount:     peerCount,
			ConsensusView: view,
			LatestHeight:  latestHeight,
		}
		if err := s.repos.Metrics.Insert(ctx, snapshot); err != nil {
			s.logger.Printf("record node metrics snapshot: %v", err)
		}
	}

	body := map[string]interface{}{
		"status":         dbStatus,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"database":       database,
		"mempool_size":   s.mempool.Size(),
		"peer_count":     peerCount,
		"tls_enabled":    s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != "",
		// Request-level authentication is transparently pass-through:
		// per-transaction Ed25519 verification in handleSubmit is the real
		// gate.
		"auth_mode": "transaction_signature",
	}
	if s.replica != nil {
		body["consensus_view"] = s.replica.View()
		body["consensus_phase"] = s.replica.Phase()
	}

	status := http.StatusOK
	if dbErr != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, s.logger, status, body)
}
