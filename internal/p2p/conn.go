package p2p

import (
	"context"
	"crypto/ed25519"
	"log"
	"net"
	"sync"
	"time"
)

const (
	outboundChannelCapacity = 128
	keepaliveInterval       = 15 * time.Second
	reconnectBackoffInitial = 1 * time.Second
	reconnectBackoffCap     = 30 * time.Second
)

// EnvelopeHandler processes an inbound envelope received from peer addr.
type EnvelopeHandler func(from string, env Envelope)

// ConnManager owns every live connection (inbound and outbound) and the
// bounded outgoing channel each one reads from. It is shared between the
// connection tasks and the broadcaster; iteration snapshots are taken
// before any network I/O so the lock is never held across a write.
type ConnManager struct {
	mu       sync.Mutex
	conns    map[string]chan Envelope // address -> bounded outgoing channel
	dialing  map[string]bool          // address -> an outbound task is managing this peer

	peers   *PeerStore
	nodeID  string
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	handler EnvelopeHandler
	logger  *log.Logger
}

// NewConnManager builds a ConnManager. handler is invoked for every
// envelope received on any connection, from a per-connection goroutine.
func NewConnManager(nodeID string, priv ed25519.PrivateKey, pub ed25519.PublicKey, peers *PeerStore, handler EnvelopeHandler, logger *log.Logger) *ConnManager {
	if logger == nil {
		logger = log.New(log.Writer(), "[p2p-conn] ", log.LstdFlags)
	}
	return &ConnManager{
		conns:   make(map[string]chan Envelope),
		dialing: make(map[string]bool),
		peers:   peers,
		nodeID:  nodeID,
		priv:    priv,
		pub:     pub,
		handler: handler,
		logger:  logger,
	}
}

// EnsureOutbound starts a managing goroutine for addr if one is not
// already running. At most one outbound connection per address is ever
// dialed.
func (m *ConnManager) EnsureOutbound(ctx context.Context, addr string) {
	m.mu.Lock()
	if m.dialing[addr] {
		m.mu.Unlock()
		return
	}
	m.dialing[addr] = true
	m.mu.Unlock()

	go m.manageOutbound(ctx, addr)
}

// manageOutbound repeatedly dials addr, handshakes, and serves the
// connection until it fails or ctx is canceled, backing off between
// attempts and respecting a ban.
func (m *ConnManager) manageOutbound(ctx context.Context, addr string) {
	defer func() {
		m.mu.Lock()
		delete(m.dialing, addr)
		m.mu.Unlock()
	}()

	backoff := reconnectBackoffInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now()
		if m.peers.Banned(addr, now) {
			if !sleepCtx(ctx, banDuration/10) {
				return
			}
			continue
		}

		conn, discovered, err := DialAndHandshake(addr, m.nodeID, m.priv, m.pub)
		if err != nil {
			m.logger.Printf("dial %s failed: %v", addr, err)
			m.peers.RecordFailure(addr, now)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = reconnectBackoffInitial
		m.peers.RecordSuccess(addr, now)
		for _, p := range discovered {
			m.peers.Add(p, now)
		}

		m.serveConnection(ctx, addr, conn)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// AcceptInbound performs the accepter side of the handshake on conn and,
// on success, serves it until it fails or ctx is canceled. Called from the
// node's accept loop once per incoming connection.
func (m *ConnManager) AcceptInbound(ctx context.Context, conn net.Conn) {
	known := make([]string, 0)
	for _, p := range m.peers.Snapshot() {
		known = append(known, p.Address)
	}

	peerID, _, err := AcceptHandshake(conn, known)
	if err != nil {
		m.logger.Printf("inbound handshake from %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	addr := conn.RemoteAddr().String()
	m.peers.Add(addr, time.Now())
	m.peers.RecordSuccess(addr, time.Now())
	m.logger.Printf("accepted peer %s (%s)", peerID, addr)

	m.serveConnection(ctx, addr, conn)
}

// serveConnection registers addr's outgoing channel and runs the read and
// write loops until either fails, then deregisters and closes the
// connection.
func (m *ConnManager) serveConnection(ctx context.Context, addr string, conn net.Conn) {
	out := make(chan Envelope, outboundChannelCapacity)
	m.register(addr, out)
	defer m.deregister(addr)
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{}, 2)
	go m.readLoop(connCtx, addr, conn, done)
	go m.writeLoop(connCtx, addr, conn, out, done)

	<-done
	cancel()
	<-done
	m.peers.RecordFailure(addr, time.Now())
}

func (m *ConnManager) readLoop(ctx context.Context, addr string, conn net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		env, err := ReadEnvelope(conn)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Printf("read from %s failed: %v", addr, err)
			}
			return
		}
		if !m.peers.Allow(addr, time.Now()) {
			m.logger.Printf("peer %s exceeded rate limit, dropping envelope %s", addr, env.Type)
			continue
		}
		m.handler(addr, env)
	}
}

func (m *ConnManager) writeLoop(ctx context.Context, addr string, conn net.Conn, out <-chan Envelope, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-out:
			if err := WriteEnvelope(conn, env); err != nil {
				m.logger.Printf("write to %s failed: %v", addr, err)
				return
			}
			ticker.Reset(keepaliveInterval)
		case <-ticker.C:
			ping, _ := NewEnvelope(TypePing, struct{}{})
			if err := WriteEnvelope(conn, ping); err != nil {
				m.logger.Printf("keepalive write to %s failed: %v", addr, err)
				return
			}
		}
	}
}

func (m *ConnManager) register(addr string, out chan Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[addr] = out
}

func (m *ConnManager) deregister(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, addr)
}

// Send enqueues env onto addr's outgoing channel without blocking; a full
// channel (a slow or stuck peer) drops the envelope rather than stalling
// the caller.
func (m *ConnManager) Send(addr string, env Envelope) bool {
	m.mu.Lock()
	out, ok := m.conns[addr]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case out <- env:
		return true
	default:
		return false
	}
}

// ConnectedAddrs returns a snapshot of every address with a live
// connection, for the fan-out selection to operate on without holding the
// lock during send.
func (m *ConnManager) ConnectedAddrs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	for addr := range m.conns {
		out = append(out, addr)
	}
	return out
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectBackoffCap {
		return reconnectBackoffCap
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
