package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/certen/ledgernode/internal/crypto"
	"github.com/certen/ledgernode/internal/relstore"
)

type proofStepView struct {
	Sibling string `json:"sibling"`
	IsLeft  bool   `json:"is_left"`
}

type proofResponse struct {
	Root  string          `json:"root"`
	Index int             `json:"index"`
	Path  []proofStepView `json:"path"`
}

// handleProof implements GET /proof/:tx: if the transaction is in a
// block, returns the Merkle root, the transaction's index, and its
// inclusion path, built by enumerating the block's tx_hashes in their
// committed order.
func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, ErrBadRequest, "only GET is allowed")
		return
	}
	txHash := strings.TrimPrefix(r.URL.Path, "/proof/")
	if txHash == "" {
		writeError(w, s.logger, ErrBadRequest, "transaction hash is required")
		return
	}

	ctx := r.Context()
	idxRow, err := s.repos.TxIndex.GetByHash(ctx, txHash)
	if err == relstore.ErrTransactionNotFound {
		writeError(w, s.logger, ErrNotFound, "transaction not yet included in a block")
		return
	}
	if err != nil {
		writeError(w, s.logger, ErrInternal, "lookup failed")
		return
	}

	block, err := s.repos.Blocks.GetByID(ctx, idxRow.BlockID)
	if err != nil {
		writeError(w, s.logger, ErrInternal, "block lookup failed")
		return
	}

	hashes := make([][32]byte, len(block.TxHashes))
	index := -1
	for i, h := range block.TxHashes {
		hashes[i] = crypto.SHA256([]byte(h))
		if h == txHash {
			index = i
		}
	}
	if index == -1 {
		writeError(w, s.logger, ErrInternal, "tx_index points at a block that does not contain the transaction")
		return
	}

	proof, err := crypto.MerkleProof(hashes, index)
	if err != nil {
		writeError(w, s.logger, ErrInternal, "proof construction failed")
		return
	}
	root := crypto.MerkleRoot(hashes)

	path := make([]proofStepView, len(proof))
	for i, step := range proof {
		path[i] = proofStepView{Sibling: fmt.Sprintf("%x", step.Sibling), IsLeft: step.IsLeftChild}
	}

	writeJSON(w, s.logger, http.StatusOK, proofResponse{
		Root:  fmt.Sprintf("%x", root),
		Index: index,
		Path:  path,
	})
}
