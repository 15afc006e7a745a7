package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/kvstore"
)

// handleBlock implements GET /block/:id: retrieves the committed block's
// JSON representation from the KV cache.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/block/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, s.logger, ErrBadRequest, "invalid block id")
		return
	}

	data, err := s.kv.Get(kvstore.BlockKey(id))
	if err == kvstore.ErrNotFound {
		writeError(w, s.logger, ErrNotFound, "block not found")
		return
	}
	if err != nil {
		writeError(w, s.logger, ErrInternal, "lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
