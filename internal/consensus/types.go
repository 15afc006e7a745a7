// Package consensus implements the leader-rotating, HotStuff-family BFT
// state machine: a deterministic leader proposes a block built from
// mempool-selected transactions, replicas vote, and a quorum of 2f+1
// matching signatures (over a known validator set of 3f+1) finalizes the
// block. Equivocating validators are recorded as immutable evidence.
package consensus

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/txtypes"
)

// Phase is a replica's position within a view.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingProposal Phase = "awaiting_proposal"
	PhaseVotingPrepare    Phase = "voting_prepare"
	PhaseVotingCommit     Phase = "voting_commit"
	PhaseFinalizing       Phase = "finalizing"
)

// ViewTimeout is the per-view deadline: a view that has not committed by
// then rotates to the next leader.
const ViewTimeout = 5 * time.Second

// MaxProposalTxs is the maximum number of transactions a leader requests
// from the mempool for one proposal.
const MaxProposalTxs = 100

// Proposal is the leader's candidate block for a view, signed by the
// leader over the block hash so replicas can authenticate the proposer
// regardless of which transport connection delivered it.
type Proposal struct {
	View      uint64         `json:"view"`
	Block     *txtypes.Block `json:"block"`
	Signature string         `json:"signature"`
}

// Vote is one replica's signature over a proposal.
type Vote struct {
	ValidatorID string    `json:"validator_id"`
	View        uint64    `json:"view"`
	BlockID     uuid.UUID `json:"block_id"`
	BlockHash   string    `json:"block_hash"`
	Signature   string    `json:"signature"`
}

// ViewChange is broadcast by a replica whose view timer expires without
// reaching Finalizing.
type ViewChange struct {
	ValidatorID string `json:"validator_id"`
	View        uint64 `json:"view"`
}

// Message types exchanged over the consensus transport.
const (
	MsgPropose    = "propose"
	MsgVote       = "vote"
	MsgViewChange = "view_change"
)

// voteSigningMessage returns the bytes a Vote's signature is computed
// over: the view number and block hash, so a vote cannot be replayed
// across views or reattributed to a different block.
func voteSigningMessage(view uint64, blockHash string) []byte {
	return []byte(strconv.FormatUint(view, 10) + ":" + blockHash)
}

// proposalSigningMessage returns the bytes a Proposal's signature is
// computed over. Domain-separated from vote signatures so a leader's
// propose cannot be replayed as its own prepare vote.
func proposalSigningMessage(view uint64, blockHash string) []byte {
	return []byte("propose:" + strconv.FormatUint(view, 10) + ":" + blockHash)
}
