package p2p

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/certen/ledgernode/internal/crypto"
	"github.com/certen/ledgernode/internal/mempool"
	"github.com/certen/ledgernode/internal/txtypes"
)

const peerPruneInterval = 1 * time.Hour
const peerSaveInterval = 1 * time.Minute

// Node wires together the frame codec, handshake, connection manager,
// dedup cache and peer store into the node's P2P overlay: it listens for
// inbound peers, maintains outbound connections to every known peer
// address, and gossips admitted transactions with bounded fan-out.
type Node struct {
	nodeID     string
	listenAddr string
	priv       ed25519.PrivateKey
	pub        ed25519.PublicKey

	peers *PeerStore
	dedup *DedupCache
	conns *ConnManager

	mempool   *mempool.Mempool
	peersFile string

	logger *log.Logger
}

// Config configures a Node.
type Config struct {
	NodeID     string
	ListenAddr string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	PeersFile  string
	Logger     *log.Logger
}

// New builds a Node. Call Run to start listening and dialing.
func New(cfg Config, mp *mempool.Mempool) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[p2p] ", log.LstdFlags)
	}
	peers := NewPeerStore(logger)
	dedup := NewDedupCache()

	n := &Node{
		nodeID:     cfg.NodeID,
		listenAddr: cfg.ListenAddr,
		priv:       cfg.PrivateKey,
		pub:        cfg.PublicKey,
		peers:      peers,
		dedup:      dedup,
		mempool:    mp,
		peersFile:  cfg.PeersFile,
		logger:     logger,
	}
	n.conns = NewConnManager(cfg.NodeID, cfg.PrivateKey, cfg.PublicKey, peers, n.handleEnvelope, logger)
	return n
}

// PeerStore exposes the peer store for the API's GET /peers handler.
func (n *Node) PeerStore() *PeerStore { return n.peers }

// Seed adds a set of known peer addresses (from configuration, the
// persisted peers file, or a bootstrap fetch) before Run starts dialing.
func (n *Node) Seed(addrs []string) {
	now := time.Now()
	for _, a := range addrs {
		n.peers.Add(a, now)
	}
}

// Run starts the listener, begins dialing every known peer, and runs the
// background dedup pruning, peer pruning and peer-file persistence loops.
// It returns once stop is closed, after the listener is closed (connection
// tasks exit on their own as reads/writes fail).
func (n *Node) Run(ctx context.Context, stop <-chan struct{}) error {
	ln, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("p2p: listen on %s: %w", n.listenAddr, err)
	}
	n.logger.Printf("listening on %s (node_id=%s)", n.listenAddr, n.nodeID)

	go n.acceptLoop(ctx, ln)

	for _, p := range n.peers.Snapshot() {
		n.conns.EnsureOutbound(ctx, p.Address)
	}

	go n.dedup.Run(stop)
	go n.maintenanceLoop(stop)

	<-stop
	return ln.Close()
}

func (n *Node) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Printf("accept failed: %v", err)
			continue
		}
		go n.conns.AcceptInbound(ctx, conn)
	}
}

func (n *Node) maintenanceLoop(stop <-chan struct{}) {
	pruneTicker := time.NewTicker(peerPruneInterval)
	defer pruneTicker.Stop()
	saveTicker := time.NewTicker(peerSaveInterval)
	defer saveTicker.Stop()

	for {
		select {
		case <-stop:
			if n.peersFile != "" {
				if err := n.peers.SaveFile(n.peersFile); err != nil {
					n.logger.Printf("final peers save failed: %v", err)
				}
			}
			return
		case t := <-pruneTicker.C:
			n.peers.Prune(t)
		case <-saveTicker.C:
			if n.peersFile != "" {
				if err := n.peers.SaveFile(n.peersFile); err != nil {
					n.logger.Printf("peers save failed: %v", err)
				}
			}
		}
	}
}

// handleEnvelope dispatches one inbound envelope from addr. hello,
// challenge, signature and peer_list are handshake-only and never arrive
// here (they are consumed by AcceptHandshake/DialAndHandshake); only
// steady-state traffic reaches this dispatcher.
func (n *Node) handleEnvelope(addr string, env Envelope) {
	switch env.Type {
	case TypeGossipTx:
		n.handleGossipTx(addr, env)
	case TypePing:
		n.conns.Send(addr, mustEnvelope(TypePong, struct{}{}))
	case TypePong:
		n.peers.RecordSuccess(addr, time.Now())
	default:
		n.logger.Printf("dropping unexpected envelope type %q from %s", env.Type, addr)
	}
}

func (n *Node) handleGossipTx(addr string, env Envelope) {
	canonical, err := canonicalPayload(env.Payload)
	if err != nil {
		n.logger.Printf("malformed gossip_tx from %s: %v", addr, err)
		return
	}
	id := MessageID(TypeGossipTx, canonical)
	if n.dedup.SeenOrRecord(id, time.Now()) {
		return
	}

	var tx txtypes.Transaction
	if err := json.Unmarshal(env.Payload, &tx); err != nil {
		n.logger.Printf("malformed gossip_tx payload from %s: %v", addr, err)
		return
	}

	if tx.Signature != "" && tx.PublicKey != "" {
		if !crypto.Verify(tx.PublicKey, tx.Signature, tx.SigningMessage()) {
			n.peers.RecordFailure(addr, time.Now())
			n.logger.Printf("dropping gossip_tx %s from %s: invalid signature", tx.TxHash, addr)
			return
		}
	}

	n.mempool.Admit(&tx, time.Now())
	n.rebroadcast(env, id, addr)
}

// Broadcast gossips tx to up to FanOut peers, wrapping it in a gossip_tx
// envelope and recording its message id so the node never forwards it
// again within the dedup window.
func (n *Node) Broadcast(tx *txtypes.Transaction) error {
	env, err := NewEnvelope(TypeGossipTx, tx)
	if err != nil {
		return err
	}
	canonical, err := canonicalPayload(env.Payload)
	if err != nil {
		return err
	}
	id := MessageID(TypeGossipTx, canonical)
	if n.dedup.SeenOrRecord(id, time.Now()) {
		return nil
	}
	n.sendToFanOut(env, id, "")
	return nil
}

// rebroadcast forwards an envelope received from one peer to the fan-out
// subset, excluding the originating peer.
func (n *Node) rebroadcast(env Envelope, id, from string) {
	n.sendToFanOut(env, id, from)
}

func (n *Node) sendToFanOut(env Envelope, id string, exclude string) {
	addrs := n.conns.ConnectedAddrs()
	targets := SelectFanOut(addrs, id)
	for _, addr := range targets {
		if addr == exclude {
			continue
		}
		n.conns.Send(addr, env)
	}
}

// canonicalPayload re-marshals raw JSON into a byte-stable form (decoding
// into interface{} turns objects into maps, whose keys encoding/json
// emits in sorted order) for the message-id hash.
func canonicalPayload(raw json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func mustEnvelope(typ string, payload interface{}) Envelope {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return Envelope{Version: ProtocolVersion, Type: typ}
	}
	return env
}
