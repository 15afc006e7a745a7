package consensus

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/txtypes"
)

// testHub wires a fixed set of fakeNetwork instances together so each
// Broadcast call is delivered to every other participant's inbox,
// mirroring the real Transport's "never deliver to self" behavior.
type testHub struct {
	mu    sync.Mutex
	peers map[string]*fakeNetwork
}

func (h *testHub) broadcast(from, msgType string, payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, n := range h.peers {
		if id == from {
			continue
		}
		select {
		case n.inbox <- InboundMessage{From: from, Type: msgType, Payload: payload}:
		default:
		}
	}
}

type fakeNetwork struct {
	id    string
	hub   *testHub
	inbox chan InboundMessage
}

func (n *fakeNetwork) Broadcast(msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	n.hub.broadcast(n.id, msgType, data)
	return nil
}

func (n *fakeNetwork) Inbox() <-chan InboundMessage { return n.inbox }

type fakeMempool struct {
	txs []*txtypes.Transaction
}

func (m fakeMempool) PopForBlock(limit int, now time.Time) []*txtypes.Transaction {
	return m.txs
}

func sampleTxs() []*txtypes.Transaction {
	return []*txtypes.Transaction{
		{ID: uuid.New(), TxHash: "aa01", Sender: "alice", Recipient: "bob", Amount: 10},
		{ID: uuid.New(), TxHash: "bb02", Sender: "carol", Recipient: "dave", Amount: 20},
	}
}

func TestReplicaQuorumFinalizesBlockAtEveryReplica(t *testing.T) {
	ids := []string{"v0", "v1", "v2", "v3"}
	privs := make(map[string]ed25519.PrivateKey, len(ids))
	validators := make([]txtypes.Validator, len(ids))
	for i, id := range ids {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("keygen: %v", err)
		}
		privs[id] = priv
		validators[i] = txtypes.Validator{ID: id, PubKey: hex.EncodeToString(pub), Stake: 1, Active: true}
	}
	vs := NewValidatorSet(validators)

	hub := &testHub{peers: make(map[string]*fakeNetwork)}
	committed := make(map[string]chan *txtypes.Block, len(ids))

	replicas := make(map[string]*Replica, len(ids))
	for _, id := range ids {
		net := &fakeNetwork{id: id, hub: hub, inbox: make(chan InboundMessage, 64)}
		hub.peers[id] = net

		ch := make(chan *txtypes.Block, 4)
		committed[id] = ch

		mp := fakeMempool{txs: sampleTxs()}
		r := NewReplica(id, privs[id], vs, net, mp, nil, func(_ context.Context, b *txtypes.Block) error {
			ch <- b
			return nil
		}, 0, uuid.Nil, nil)
		replicas[id] = r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, r := range replicas {
		go r.Run(ctx)
	}

	for _, id := range ids {
		select {
		case b := <-committed[id]:
			if b.Height != 1 {
				t.Fatalf("replica %s: expected height 1, got %d", id, b.Height)
			}
			if b.TxCount != len(sampleTxs()) {
				t.Fatalf("replica %s: expected %d txs in block, got %d", id, len(sampleTxs()), b.TxCount)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("replica %s never finalized view 0", id)
		}
	}
}

func TestReplicaRejectsProposalFromNonLeader(t *testing.T) {
	ids := []string{"v0", "v1", "v2", "v3"}
	privs := make(map[string]ed25519.PrivateKey, len(ids))
	validators := make([]txtypes.Validator, len(ids))
	for i, id := range ids {
		pub, priv, _ := ed25519.GenerateKey(rand.Reader)
		privs[id] = priv
		validators[i] = txtypes.Validator{ID: id, PubKey: hex.EncodeToString(pub), Stake: 1, Active: true}
	}
	vs := NewValidatorSet(validators)

	net := &fakeNetwork{id: "v0", hub: &testHub{peers: make(map[string]*fakeNetwork)}, inbox: make(chan InboundMessage, 8)}
	committed := make(chan *txtypes.Block, 1)
	r := NewReplica("v0", privs["v0"], vs, net, fakeMempool{txs: sampleTxs()}, nil, func(_ context.Context, b *txtypes.Block) error {
		committed <- b
		return nil
	}, 0, uuid.Nil, nil)

	leader, _ := vs.Leader(0)
	nonLeaderID := ""
	for _, id := range ids {
		if id != leader.ID {
			nonLeaderID = id
			break
		}
	}

	bogusBlock := &txtypes.Block{
		ID: uuid.New(), Height: 1, ParentIDs: []uuid.UUID{uuid.Nil},
		MerkleRoot: "doesnotmatter", Proposer: nonLeaderID, TxCount: 0,
	}
	r.handleProposal(context.Background(), Proposal{View: 0, Block: bogusBlock})

	if r.Phase() != PhaseIdle {
		t.Fatalf("expected a non-leader's proposal to be dropped before any vote is signed, phase = %s", r.Phase())
	}
	select {
	case <-committed:
		t.Fatal("expected a proposal from a non-leader to be dropped, not voted and finalized")
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingEvidenceSink struct {
	mu       sync.Mutex
	recorded []*txtypes.EquivocationEvidence
}

func (s *recordingEvidenceSink) Insert(_ context.Context, ev *txtypes.EquivocationEvidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, ev)
	return nil
}

func TestReplicaRecordsEquivocationEvidenceOnce(t *testing.T) {
	ids := []string{"v0", "v1", "v2", "v3"}
	privs := make(map[string]ed25519.PrivateKey, len(ids))
	validators := make([]txtypes.Validator, len(ids))
	for i, id := range ids {
		pub, priv, _ := ed25519.GenerateKey(rand.Reader)
		privs[id] = priv
		validators[i] = txtypes.Validator{ID: id, PubKey: hex.EncodeToString(pub), Stake: 1, Active: true}
	}
	vs := NewValidatorSet(validators)

	sink := &recordingEvidenceSink{}
	net := &fakeNetwork{id: "v0", hub: &testHub{peers: make(map[string]*fakeNetwork)}, inbox: make(chan InboundMessage, 8)}
	r := NewReplica("v0", privs["v0"], vs, net, fakeMempool{}, sink, func(_ context.Context, _ *txtypes.Block) error {
		return nil
	}, 0, uuid.Nil, nil)

	const view = 7
	hashX, hashY := "aaaa", "bbbb"

	vote := func(blockHash string) Vote {
		sig := ed25519.Sign(privs["v2"], voteSigningMessage(view, blockHash))
		return Vote{
			ValidatorID: "v2", View: view, BlockID: uuid.New(),
			BlockHash: blockHash, Signature: hex.EncodeToString(sig),
		}
	}

	r.handleVote(context.Background(), vote(hashX))
	r.handleVote(context.Background(), vote(hashY))
	// A replayed conflicting vote must not produce a second record.
	r.handleVote(context.Background(), vote(hashY))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.recorded) != 1 {
		t.Fatalf("expected exactly one evidence record, got %d", len(sink.recorded))
	}
	ev := sink.recorded[0]
	if ev.ValidatorID != "v2" || ev.View != view || ev.Existing != hashX || ev.Conflicting != hashY {
		t.Fatalf("unexpected evidence record: %+v", ev)
	}
}

func TestReplicaRejectsForgedLeaderProposal(t *testing.T) {
	ids := []string{"v0", "v1", "v2", "v3"}
	privs := make(map[string]ed25519.PrivateKey, len(ids))
	validators := make([]txtypes.Validator, len(ids))
	for i, id := range ids {
		pub, priv, _ := ed25519.GenerateKey(rand.Reader)
		privs[id] = priv
		validators[i] = txtypes.Validator{ID: id, PubKey: hex.EncodeToString(pub), Stake: 1, Active: true}
	}
	vs := NewValidatorSet(validators)

	net := &fakeNetwork{id: "v1", hub: &testHub{peers: make(map[string]*fakeNetwork)}, inbox: make(chan InboundMessage, 8)}
	r := NewReplica("v1", privs["v1"], vs, net, fakeMempool{}, nil, func(_ context.Context, _ *txtypes.Block) error {
		return nil
	}, 0, uuid.Nil, nil)

	leader, _ := vs.Leader(0)
	forger := ""
	for _, id := range ids {
		if id != leader.ID {
			forger = id
			break
		}
	}

	// A block claiming to come from the leader but signed with someone
	// else's key must never earn this replica's vote.
	block := &txtypes.Block{
		ID: uuid.New(), Height: 1, ParentIDs: []uuid.UUID{uuid.Nil},
		MerkleRoot: "deadbeef", Proposer: leader.ID, TxCount: 0,
	}
	forged := Proposal{
		View:      0,
		Block:     block,
		Signature: hex.EncodeToString(ed25519.Sign(privs[forger], proposalSigningMessage(0, BlockHash(block)))),
	}
	r.handleProposal(context.Background(), forged)

	if r.Phase() != PhaseIdle {
		t.Fatalf("expected a forged proposal to be dropped, phase = %s", r.Phase())
	}
}
