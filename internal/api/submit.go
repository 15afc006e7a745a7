package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/crypto"
	"github.com/certen/ledgernode/internal/txtypes"
)

// submitRequest is the wire shape POST /tx/submit accepts: the canonical
// transaction shape minus the server-assigned id and received timestamp.
type submitRequest struct {
	TxHash      string          `json:"tx_hash"`
	Sender      string          `json:"sender"`
	Recipient   string          `json:"recipient"`
	Amount      uint64          `json:"amount"`
	Fee         uint64          `json:"fee"`
	Signature   string          `json:"signature"`
	PublicKey   string          `json:"public_key"`
	ChainID     string          `json:"chain_id"`
	Nonce       uint64          `json:"nonce"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ParentIDs   []uuid.UUID     `json:"parent_ids,omitempty"`
	Idempotency string          `json:"idempotency_key,omitempty"`
}

type submitResponse struct {
	TxID   uuid.UUID `json:"tx_id"`
	Status string    `json:"status"`
}

// handleSubmit implements POST /tx/submit.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, s.logger, ErrBadRequest, "only POST is allowed")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, ErrBadRequest, "malformed request body")
		return
	}

	if req.TxHash == "" || req.Sender == "" || req.Recipient == "" || req.ChainID == "" {
		writeError(w, s.logger, ErrBadRequest, "tx_hash, sender, recipient and chain_id are required")
		return
	}

	ctx := r.Context()

	if req.Idempotency != "" {
		if existing, ok := s.mempool.GetByIdempotency(req.Idempotency); ok {
			writeJSON(w, s.logger, http.StatusOK, submitResponse{TxID: existing.ID, Status: "pending"})
			return
		}
		if s.repos != nil {
			if existing, err := s.repos.Transactions.GetByIdempotencyKey(ctx, req.Idempotency); err == nil {
				writeJSON(w, s.logger, http.StatusOK, submitResponse{TxID: existing.ID, Status: "admitted"})
				return
			}
		}
	}

	if s.duplicateHash(ctx, req.TxHash) {
		writeError(w, s.logger, ErrDuplicate, "duplicate transaction")
		return
	}

	if req.PublicKey != "" && req.Signature != "" {
		if !crypto.Verify(req.PublicKey, req.Signature, []byte(req.TxHash)) {
			writeError(w, s.logger, ErrBadRequest, "signature invalid")
			return
		}
	}

	tx := &txtypes.Transaction{
		ID:          uuid.New(),
		TxHash:      req.TxHash,
		Sender:      req.Sender,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		Fee:         req.Fee,
		CreatedAt:   time.Now().UTC(),
		Signature:   req.Signature,
		PublicKey:   req.PublicKey,
		ChainID:     req.ChainID,
		Nonce:       req.Nonce,
		Payload:     req.Payload,
		ParentIDs:   req.ParentIDs,
		Idempotency: req.Idempotency,
	}

	if !s.mempool.Admit(tx, tx.CreatedAt) {
		writeError(w, s.logger, ErrDuplicate, "duplicate transaction")
		return
	}

	if s.peers != nil {
		if err := s.peers.Broadcast(tx); err != nil {
			s.logger.Printf("gossip submitted transaction %s: %v", tx.TxHash, err)
		}
	}

	writeJSON(w, s.logger, http.StatusAccepted, submitResponse{TxID: tx.ID, Status: "pending"})
}

// duplicateHash reports whether hash is already pending (in-memory),
// already indexed to a committed block, or already recorded in the
// authoritative transactions table — covering a transaction evicted from
// the in-memory pool by a restart before its containing block committed.
func (s *Server) duplicateHash(ctx context.Context, hash string) bool {
	if s.mempool.Contains(hash) {
		return true
	}
	if s.repos == nil {
		return false
	}
	if _, err := s.repos.TxIndex.GetByHash(ctx, hash); err == nil {
		return true
	}
	if _, err := s.repos.Transactions.GetByHash(ctx, hash); err == nil {
		return true
	}
	return false
}
