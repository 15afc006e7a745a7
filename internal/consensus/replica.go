package consensus

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	icrypto "github.com/certen/ledgernode/internal/crypto"
	"github.com/certen/ledgernode/internal/txtypes"
)

// MempoolSource is the subset of the mempool a replica needs to build a
// proposal.
type MempoolSource interface {
	PopForBlock(limit int, now time.Time) []*txtypes.Transaction
}

// CommitFunc is invoked once a block reaches quorum; it is the commit
// pipeline's entry point.
type CommitFunc func(ctx context.Context, block *txtypes.Block) error

// EvidenceSink persists equivocation evidence; satisfied by
// relstore.EvidenceRepository.
type EvidenceSink interface {
	Insert(ctx context.Context, ev *txtypes.EquivocationEvidence) error
}

// InboundMessage is one message received over the consensus transport.
type InboundMessage struct {
	From    string
	Type    string
	Payload json.RawMessage
}

// Network is the transport a Replica broadcasts proposals, votes and
// view-change messages over, and receives them from.
type Network interface {
	Broadcast(msgType string, payload interface{}) error
	Inbox() <-chan InboundMessage
}

// Replica is one node's leader-rotating BFT state machine instance.
type Replica struct {
	nodeID     string
	priv       ed25519.PrivateKey
	validators *ValidatorSet
	net        Network
	mempool    MempoolSource
	evidence   EvidenceSink
	commit     CommitFunc
	logger     *log.Logger

	mu sync.Mutex

	view  uint64
	phase Phase

	lastFinalizedID     uuid.UUID
	lastFinalizedHeight uint64
	finalizedViews      map[uint64]bool

	// ownVoteByView records the block hash this replica itself signed in a
	// given view, so a later conflicting proposal for the same view is
	// rejected rather than double-signed.
	ownVoteByView map[uint64]string

	// firstVoteByValidatorView + tally implement quorum counting and
	// equivocation detection across all validators' votes. The tally keeps
	// each voter's signature so a finalized block carries its quorum
	// certificate.
	firstVoteByValidatorView map[validatorView]string
	tally                    map[uint64]map[string]map[string]string // view -> blockHash -> validator id -> signature
	blocksByHash             map[string]*txtypes.Block

	// reportedEquivocations dedupes evidence at the source: a replayed
	// conflicting vote produces exactly one persisted record.
	reportedEquivocations map[string]bool
}

type validatorView struct {
	validatorID string
	view        uint64
}

// NewReplica builds a Replica. startHeight/startID seed the parent
// pointer for the first proposal this node makes or validates.
func NewReplica(nodeID string, priv ed25519.PrivateKey, validators *ValidatorSet, net Network, mempool MempoolSource, evidence EvidenceSink, commit CommitFunc, startHeight uint64, startID uuid.UUID, logger *log.Logger) *Replica {
	if logger == nil {
		logger = log.New(log.Writer(), "[consensus] ", log.LstdFlags)
	}
	return &Replica{
		nodeID:                   nodeID,
		priv:                     priv,
		validators:               validators,
		net:                      net,
		mempool:                  mempool,
		evidence:                 evidence,
		commit:                   commit,
		logger:                   logger,
		phase:                    PhaseIdle,
		view:                     startHeight,
		lastFinalizedID:          startID,
		lastFinalizedHeight:      startHeight,
		finalizedViews:           make(map[uint64]bool),
		ownVoteByView:            make(map[uint64]string),
		firstVoteByValidatorView: make(map[validatorView]string),
		tally:                    make(map[uint64]map[string]map[string]string),
		blocksByHash:             make(map[string]*txtypes.Block),
		reportedEquivocations:    make(map[string]bool),
	}
}

// Run drives the view loop until ctx is canceled. The view timer restarts
// whenever the view advances (finalization or timeout), so every view gets
// its full window.
func (r *Replica) Run(ctx context.Context) {
	r.startView(ctx, r.view)

	timer := time.NewTimer(ViewTimeout)
	defer timer.Stop()

	lastView := r.View()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.net.Inbox():
			r.handleMessage(ctx, msg)
			if v := r.View(); v != lastView {
				lastView = v
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(ViewTimeout)
			}
		case <-timer.C:
			r.handleTimeout(ctx)
			lastView = r.View()
			timer.Reset(ViewTimeout)
		}
	}
}

// startView begins view v: if this replica is its leader, it builds and
// broadcasts a proposal.
func (r *Replica) startView(ctx context.Context, v uint64) {
	r.mu.Lock()
	r.view = v
	r.phase = PhaseAwaitingProposal
	r.mu.Unlock()

	leader, ok := r.validators.Leader(v)
	if !ok || leader.ID != r.nodeID {
		return
	}

	block := r.buildProposal(v)
	proposal := Proposal{
		View:      v,
		Block:     block,
		Signature: icrypto.Sign(r.priv, proposalSigningMessage(v, BlockHash(block))),
	}
	if err := r.net.Broadcast(MsgPropose, proposal); err != nil {
		r.logger.Printf("broadcast propose for view %d failed: %v", v, err)
	}
	r.handleProposal(ctx, proposal)
}

func (r *Replica) buildProposal(v uint64) *txtypes.Block {
	txs := r.mempool.PopForBlock(MaxProposalTxs, time.Now())

	hashes := make([][32]byte, len(txs))
	txIDs := make([]uuid.UUID, len(txs))
	txHashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = icrypto.SHA256([]byte(tx.TxHash))
		txIDs[i] = tx.ID
		txHashes[i] = tx.TxHash
	}
	root := icrypto.MerkleRoot(hashes)

	r.mu.Lock()
	parentID := r.lastFinalizedID
	height := r.lastFinalizedHeight + 1
	r.mu.Unlock()

	return &txtypes.Block{
		ID:         uuid.New(),
		Height:     height,
		ParentIDs:  []uuid.UUID{parentID},
		MerkleRoot: fmt.Sprintf("%x", root),
		Timestamp:  time.Now().UTC(),
		TxCount:    len(txs),
		TxIDs:      txIDs,
		TxHashes:   txHashes,
		Proposer:   r.nodeID,
	}
}

// BlockHash returns the canonical digest used for vote signing and
// equivocation evidence: a hash over the block's immutable proposal
// content (not its evolving signature set).
func BlockHash(b *txtypes.Block) string {
	type hashable struct {
		Height     uint64      `json:"height"`
		ParentIDs  []uuid.UUID `json:"parent_ids"`
		MerkleRoot string      `json:"merkle_root"`
		Proposer   string      `json:"proposer"`
		TxCount    int         `json:"tx_count"`
	}
	data, _ := json.Marshal(hashable{
		Height: b.Height, ParentIDs: b.ParentIDs, MerkleRoot: b.MerkleRoot,
		Proposer: b.Proposer, TxCount: b.TxCount,
	})
	return icrypto.SHA256Hex(data)
}

func (r *Replica) handleMessage(ctx context.Context, msg InboundMessage) {
	switch msg.Type {
	case MsgPropose:
		var p Proposal
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			r.logger.Printf("malformed propose from %s: %v", msg.From, err)
			return
		}
		r.handleProposal(ctx, p)
	case MsgVote:
		var v Vote
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			r.logger.Printf("malformed vote from %s: %v", msg.From, err)
			return
		}
		r.handleVote(ctx, v)
	case MsgViewChange:
		var vc ViewChange
		if err := json.Unmarshal(msg.Payload, &vc); err != nil {
			r.logger.Printf("malformed view_change from %s: %v", msg.From, err)
			return
		}
		r.logger.Printf("received view_change from %s for view %d", vc.ValidatorID, vc.View)
	default:
		r.logger.Printf("dropping unknown consensus message type %q from %s", msg.Type, msg.From)
	}
}

// handleProposal validates a candidate block and, if acceptable, signs and
// broadcasts a vote for it. The proposer is authenticated by the leader's
// signature over the block hash, never by which connection delivered the
// message. Validation failures are dropped silently, not surfaced as
// errors: a malformed proposal is expected byzantine behavior.
func (r *Replica) handleProposal(ctx context.Context, p Proposal) {
	if p.Block == nil {
		return
	}
	leader, ok := r.validators.Leader(p.View)
	if !ok || leader.ID != p.Block.Proposer {
		r.logger.Printf("dropping propose for view %d: leader mismatch (expected %s, got %s)", p.View, leader.ID, p.Block.Proposer)
		return
	}

	hash := BlockHash(p.Block)
	if !icrypto.Verify(leader.PubKey, p.Signature, proposalSigningMessage(p.View, hash)) {
		r.logger.Printf("dropping propose for view %d: invalid leader signature", p.View)
		return
	}
	if !r.validStructure(p.Block) {
		r.logger.Printf("dropping propose for view %d: invalid block structure", p.View)
		return
	}

	r.mu.Lock()
	if existing, ok := r.ownVoteByView[p.View]; ok && existing != hash {
		r.mu.Unlock()
		r.logger.Printf("refusing to double-sign view %d for a conflicting proposal", p.View)
		return
	}
	r.ownVoteByView[p.View] = hash
	r.blocksByHash[hash] = p.Block
	r.phase = PhaseVotingPrepare
	r.mu.Unlock()

	vote := Vote{
		ValidatorID: r.nodeID,
		View:        p.View,
		BlockID:     p.Block.ID,
		BlockHash:   hash,
		Signature:   icrypto.Sign(r.priv, voteSigningMessage(p.View, hash)),
	}
	if err := r.net.Broadcast(MsgVote, vote); err != nil {
		r.logger.Printf("broadcast vote for view %d failed: %v", p.View, err)
	}
	r.handleVote(ctx, vote)
}

// validStructure checks the block's Merkle root matches its tx hash list
// and that it points at this replica's last finalized block.
func (r *Replica) validStructure(b *txtypes.Block) bool {
	if len(b.TxIDs) != b.TxCount || len(b.TxHashes) != b.TxCount {
		return false
	}
	hashes := make([][32]byte, len(b.TxHashes))
	for i, h := range b.TxHashes {
		hashes[i] = icrypto.SHA256([]byte(h))
	}
	root := icrypto.MerkleRoot(hashes)
	if fmt.Sprintf("%x", root) != b.MerkleRoot {
		return false
	}

	r.mu.Lock()
	parentID := r.lastFinalizedID
	r.mu.Unlock()
	if len(b.ParentIDs) != 1 || b.ParentIDs[0] != parentID {
		return false
	}
	return true
}

// handleVote records v, detecting equivocation and counting toward
// quorum. A validator's second, conflicting vote within the same view
// produces exactly one persisted EquivocationEvidence record.
func (r *Replica) handleVote(ctx context.Context, v Vote) {
	validator, ok := r.validators.Get(v.ValidatorID)
	if !ok {
		r.logger.Printf("dropping vote from unknown validator %s", v.ValidatorID)
		return
	}
	if !icrypto.Verify(validator.PubKey, v.Signature, voteSigningMessage(v.View, v.BlockHash)) {
		r.logger.Printf("dropping vote from %s: invalid signature", v.ValidatorID)
		return
	}

	key := validatorView{validatorID: v.ValidatorID, view: v.View}

	r.mu.Lock()
	existing, seen := r.firstVoteByValidatorView[key]
	if seen && existing != v.BlockHash {
		r.mu.Unlock()
		r.recordEquivocation(ctx, v.ValidatorID, v.View, existing, v.BlockHash)
		return
	}
	if !seen {
		r.firstVoteByValidatorView[key] = v.BlockHash
		if r.tally[v.View] == nil {
			r.tally[v.View] = make(map[string]map[string]string)
		}
		if r.tally[v.View][v.BlockHash] == nil {
			r.tally[v.View][v.BlockHash] = make(map[string]string)
		}
		r.tally[v.View][v.BlockHash][v.ValidatorID] = v.Signature
	}
	count := len(r.tally[v.View][v.BlockHash])
	quorum := r.validators.QuorumSize()
	alreadyFinalized := r.finalizedViews[v.View]
	block := r.blocksByHash[v.BlockHash]
	if !alreadyFinalized && count >= quorum && block != nil {
		block.Signatures = quorumCertificate(r.tally[v.View][v.BlockHash])
	}
	r.mu.Unlock()

	if alreadyFinalized || count < quorum || block == nil {
		return
	}
	r.finalize(ctx, v.View, block)
}

// quorumCertificate renders the collected votes as a block's signature
// set, ordered by validator id so every replica records the identical
// certificate.
func quorumCertificate(votes map[string]string) []txtypes.ValidatorSignature {
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]txtypes.ValidatorSignature, len(ids))
	for i, id := range ids {
		out[i] = txtypes.ValidatorSignature{ValidatorID: id, Signature: votes[id]}
	}
	return out
}

func (r *Replica) recordEquivocation(ctx context.Context, validatorID string, view uint64, existingHash, conflictingHash string) {
	key := fmt.Sprintf("%s/%d/%s", validatorID, view, conflictingHash)
	r.mu.Lock()
	if r.reportedEquivocations[key] {
		r.mu.Unlock()
		return
	}
	r.reportedEquivocations[key] = true
	r.mu.Unlock()

	r.logger.Printf("equivocation detected: validator=%s view=%d existing=%s conflicting=%s", validatorID, view, existingHash, conflictingHash)
	if r.evidence == nil {
		return
	}
	ev := &txtypes.EquivocationEvidence{
		ID:          uuid.New(),
		ValidatorID: validatorID,
		View:        view,
		Existing:    existingHash,
		Conflicting: conflictingHash,
		DetectedAt:  time.Now().UTC(),
	}
	if err := r.evidence.Insert(ctx, ev); err != nil {
		r.logger.Printf("persist equivocation evidence failed: %v", err)
	}
}

// finalize invokes the commit pipeline, then advances to the next view.
func (r *Replica) finalize(ctx context.Context, view uint64, block *txtypes.Block) {
	r.mu.Lock()
	if r.finalizedViews[view] {
		r.mu.Unlock()
		return
	}
	r.finalizedViews[view] = true
	r.phase = PhaseFinalizing
	r.mu.Unlock()

	if err := r.commit(ctx, block); err != nil {
		r.logger.Printf("commit block %s (view %d) failed: %v", block.ID, view, err)
		return
	}

	r.mu.Lock()
	r.lastFinalizedID = block.ID
	r.lastFinalizedHeight = block.Height
	r.phase = PhaseIdle
	r.mu.Unlock()

	r.startView(ctx, view+1)
}

// handleTimeout broadcasts a view-change vote and advances to the next
// view without committing.
func (r *Replica) handleTimeout(ctx context.Context) {
	r.mu.Lock()
	view := r.view
	finalized := r.finalizedViews[view]
	r.mu.Unlock()
	if finalized {
		return
	}

	if err := r.net.Broadcast(MsgViewChange, ViewChange{ValidatorID: r.nodeID, View: view}); err != nil {
		r.logger.Printf("broadcast view_change for view %d failed: %v", view, err)
	}
	r.startView(ctx, view+1)
}

// Phase returns the replica's current phase, for health reporting.
func (r *Replica) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// View returns the replica's current view number.
func (r *Replica) View() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}
