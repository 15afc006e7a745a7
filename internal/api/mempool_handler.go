package api

import "net/http"

const mempoolListLimit = 100

// handleMempool implements GET /mempool: up to 100 most-recent pending
// entries.
func (s *Server) handleMempool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}
	txs := s.mempool.Recent(mempoolListLimit)
	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"count":        len(txs),
		"transactions": txs,
	})
}
