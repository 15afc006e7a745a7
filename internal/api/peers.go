package api

import "net/http"

// handlePeers implements GET /peers: a snapshot of the peer store.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}
	if s.peers == nil {
		writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"peers": []interface{}{}})
		return
	}
	snapshot := s.peers.PeerStore().Snapshot()
	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"count": len(snapshot),
		"peers": snapshot,
	})
}
