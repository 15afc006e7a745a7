// Transport implements the Network interface replica.go depends on: a
// fully-connected mesh among the validator set's known addresses
// (BFT_PEERS), framed with the same length-prefixed JSON envelope codec
// internal/p2p defines for the gossip overlay. Unlike the gossip
// transport, the BFT mesh performs no handshake: a validator's identity is
// authenticated at the message level (Vote/Proposal signatures checked
// against the known validator set in replica.go), not the connection
// level, so a bare reconnecting TCP mesh is sufficient here.
package consensus

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/certen/ledgernode/internal/p2p"
)

const (
	transportReconnectInitial = 1 * time.Second
	transportReconnectCap     = 30 * time.Second
	transportDialTimeout      = 5 * time.Second
	transportOutboundBuffer   = 64
	transportInboxBuffer      = 256
)

// Transport is a reconnecting TCP mesh among the BFT validator set.
type Transport struct {
	mu     sync.Mutex
	conns  map[string]chan p2p.Envelope
	inbox  chan InboundMessage
	logger *log.Logger
}

// NewTransport builds an idle Transport; call Listen and ConnectPeers to
// start serving and dialing.
func NewTransport(logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.New(log.Writer(), "[consensus-transport] ", log.LstdFlags)
	}
	return &Transport{
		conns:  make(map[string]chan p2p.Envelope),
		inbox:  make(chan InboundMessage, transportInboxBuffer),
		logger: logger,
	}
}

// Inbox implements Network.
func (t *Transport) Inbox() <-chan InboundMessage { return t.inbox }

// Broadcast implements Network: it fans payload out to every currently
// connected peer, dropping (with a log line) toward any peer whose
// outbound buffer is full rather than blocking the caller.
func (t *Transport) Broadcast(msgType string, payload interface{}) error {
	env, err := p2p.NewEnvelope(msgType, payload)
	if err != nil {
		return fmt.Errorf("consensus: build envelope: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, ch := range t.conns {
		select {
		case ch <- env:
		default:
			t.logger.Printf("dropping %s to %s: outbound buffer full", msgType, addr)
		}
	}
	return nil
}

// Listen accepts inbound connections from other validators until ctx is
// canceled.
func (t *Transport) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("consensus: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go t.acceptLoop(ctx, ln)
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			t.logger.Printf("accept error: %v", err)
			return
		}
		go t.serve(ctx, conn, conn.RemoteAddr().String())
	}
}

// ConnectPeers maintains one reconnecting outbound connection per address
// in addrs for the lifetime of ctx.
func (t *Transport) ConnectPeers(ctx context.Context, addrs []string) {
	for _, addr := range addrs {
		go t.maintainOutbound(ctx, addr)
	}
}

func (t *Transport) maintainOutbound(ctx context.Context, addr string) {
	backoff := transportReconnectInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, transportDialTimeout)
		if err != nil {
			t.logger.Printf("dial %s failed: %v", addr, err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > transportReconnectCap {
				backoff = transportReconnectCap
			}
			continue
		}
		backoff = transportReconnectInitial
		t.serve(ctx, conn, addr)
	}
}

// serve registers addr's outbound channel and pumps reads/writes until the
// connection fails or ctx is canceled.
func (t *Transport) serve(ctx context.Context, conn net.Conn, addr string) {
	ch := make(chan p2p.Envelope, transportOutboundBuffer)
	t.mu.Lock()
	t.conns[addr] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conns[addr] == ch {
			delete(t.conns, addr)
		}
		t.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			env, err := p2p.ReadEnvelope(conn)
			if err != nil {
				return
			}
			select {
			case t.inbox <- InboundMessage{From: addr, Type: env.Type, Payload: env.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case env := <-ch:
			if err := p2p.WriteEnvelope(conn, env); err != nil {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
