package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/relstore"
)

// anchorRequest is the externally-supplied commitment a microchain posts
// into the mainchain's anchors table. Delivery of the anchor to whatever
// external system consumes it happens elsewhere; this endpoint only
// records that a commitment was made.
type anchorRequest struct {
	Height     uint64 `json:"height"`
	MerkleRoot string `json:"merkle_root"`
	Target     string `json:"target"`
}

// handleAnchor implements POST and GET /anchor: records and lists passive
// external-commitment rows, never submits anything itself.
func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAnchorSubmit(w, r)
	case http.MethodGet:
		s.handleAnchorList(w, r)
	default:
		writeError(w, s.logger, ErrBadRequest, "only GET and POST are allowed")
	}
}

func (s *Server) handleAnchorSubmit(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, ErrBadRequest, "malformed request body")
		return
	}
	if req.MerkleRoot == "" || req.Target == "" {
		writeError(w, s.logger, ErrBadRequest, "merkle_root and target are required")
		return
	}
	if s.repos == nil || s.repos.Anchors == nil {
		writeError(w, s.logger, ErrInternal, "anchor store unavailable")
		return
	}

	a := &relstore.Anchor{
		ID:         uuid.New(),
		Height:     req.Height,
		MerkleRoot: req.MerkleRoot,
		Target:     req.Target,
		AnchoredAt: time.Now().UTC(),
	}
	if err := s.repos.Anchors.Insert(r.Context(), a); err != nil {
		s.logger.Printf("anchor insert: %v", err)
		writeError(w, s.logger, ErrInternal, "failed to record anchor")
		return
	}
	writeJSON(w, s.logger, http.StatusCreated, a)
}

func (s *Server) handleAnchorList(w http.ResponseWriter, r *http.Request) {
	heightStr := r.URL.Query().Get("height")
	if heightStr == "" {
		writeError(w, s.logger, ErrBadRequest, "height query parameter is required")
		return
	}
	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		writeError(w, s.logger, ErrBadRequest, "height must be a non-negative integer")
		return
	}
	if s.repos == nil || s.repos.Anchors == nil {
		writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"anchors": []interface{}{}})
		return
	}
	anchors, err := s.repos.Anchors.ListByHeight(r.Context(), height)
	if err != nil {
		s.logger.Printf("anchor list: %v", err)
		writeError(w, s.logger, ErrInternal, "failed to list anchors")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"anchors": anchors})
}
