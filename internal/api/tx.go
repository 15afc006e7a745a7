package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/relstore"
	"github.com/certen/ledgernode/internal/txtypes"
)

// txView is the API's rendering of a transaction record: the canonical
// fields plus a derived lifecycle status ("pending" while in the mempool,
// "committed" once indexed to a block, "admitted" when durably recorded
// but neither in the mempool nor indexed). Status is not a stored column;
// it is derived at read time from which stores currently know about the
// transaction.
type txView struct {
	*txtypes.Transaction
	Status string `json:"status"`
}

// handleGetByID implements GET /tx/:id, accepting either a UUID or,
// falling back, a tx_hash.
func (s *Server) handleGetByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/tx/")
	if idStr == "" || strings.HasPrefix(idStr, "hash/") {
		writeError(w, s.logger, ErrNotFound, "transaction not found")
		return
	}

	ctx := r.Context()
	if id, err := uuid.Parse(idStr); err == nil {
		tx, err := s.repos.Transactions.GetByID(ctx, id)
		if err == nil {
			writeJSON(w, s.logger, http.StatusOK, s.view(ctx, tx))
			return
		}
		if err != relstore.ErrTransactionNotFound {
			writeError(w, s.logger, ErrInternal, "lookup failed")
			return
		}
	}

	s.respondTxByHash(w, r, idStr)
}

// view derives tx's lifecycle status: pending while still in the
// in-memory mempool, committed once a tx_index row exists, admitted
// otherwise (durably recorded but not yet proposed or finalized).
func (s *Server) view(ctx context.Context, tx *txtypes.Transaction) txView {
	if _, ok := s.mempool.Get(tx.ID); ok {
		return txView{Transaction: tx, Status: "pending"}
	}
	if _, err := s.repos.TxIndex.GetByHash(ctx, tx.TxHash); err == nil {
		return txView{Transaction: tx, Status: "committed"}
	}
	return txView{Transaction: tx, Status: "admitted"}
}

// handleGetByHash implements GET /tx/hash/:hash.
func (s *Server) handleGetByHash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}
	hash := strings.TrimPrefix(r.URL.Path, "/tx/hash/")
	s.respondTxByHash(w, r, hash)
}

func (s *Server) respondTxByHash(w http.ResponseWriter, r *http.Request, hash string) {
	if hash == "" {
		writeError(w, s.logger, ErrBadRequest, "hash is required")
		return
	}
	ctx := r.Context()
	if tx, ok := s.mempool.GetByHash(hash); ok {
		writeJSON(w, s.logger, http.StatusOK, txView{Transaction: tx, Status: "pending"})
		return
	}
	tx, err := s.repos.Transactions.GetByHash(ctx, hash)
	if err == relstore.ErrTransactionNotFound {
		writeError(w, s.logger, ErrNotFound, "transaction not found")
		return
	}
	if err != nil {
		writeError(w, s.logger, ErrInternal, "lookup failed")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, s.view(ctx, tx))
}
