package p2p

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/certen/ledgernode/internal/txtypes"
)

const (
	maxPeers              = 2000
	pruneAge              = 7 * 24 * time.Hour
	pruneFailureThreshold = 8
	banThreshold          = 5
	banDuration           = 5 * time.Minute
	rateLimitWindow       = 60 * time.Second
	rateLimitMaxEnvelopes = 600
)

// PeerStore tracks every known peer address and its reputation/rate-limit
// state. Shared between the connection manager's tasks and the API's
// GET /peers handler; mutex-guarded, and never held while a connection
// manager task blocks on network I/O (callers snapshot before dialing).
type PeerStore struct {
	mu     sync.Mutex
	peers  map[string]*txtypes.Peer
	logger *log.Logger
}

// NewPeerStore builds an empty PeerStore.
func NewPeerStore(logger *log.Logger) *PeerStore {
	if logger == nil {
		logger = log.New(log.Writer(), "[p2p-peers] ", log.LstdFlags)
	}
	return &PeerStore{peers: make(map[string]*txtypes.Peer), logger: logger}
}

// Add registers address if not already known.
func (s *PeerStore) Add(address string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[address]; ok {
		return
	}
	s.peers[address] = &txtypes.Peer{Address: address, LastSeen: now}
}

// Snapshot returns a copy of every known peer, safe to range over while
// performing network I/O.
func (s *PeerStore) Snapshot() []txtypes.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]txtypes.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Banned reports whether address is currently banned.
func (s *PeerStore) Banned(address string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok {
		return false
	}
	return p.Banned(now)
}

// RecordSuccess resets a peer's failure count and updates last-seen, as
// happens on receiving pong or completing a handshake.
func (s *PeerStore) RecordSuccess(address string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok {
		p = &txtypes.Peer{Address: address}
		s.peers[address] = p
	}
	p.LastSeen = now
	p.ConsecutiveFails = 0
}

// RecordFailure increments a peer's consecutive-failure counter and bans
// it for banDuration once it reaches banThreshold.
func (s *PeerStore) RecordFailure(address string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok {
		p = &txtypes.Peer{Address: address}
		s.peers[address] = p
	}
	p.ConsecutiveFails++
	if p.ConsecutiveFails >= banThreshold {
		p.BannedUntil = now.Add(banDuration)
		s.logger.Printf("peer %s banned until %s (%d consecutive failures)", address, p.BannedUntil, p.ConsecutiveFails)
	}
}

// Allow applies the per-peer rate limit: a fixed 60s window admits at most
// 600 envelopes. The window resets lazily when an envelope arrives after
// the window has elapsed.
func (s *PeerStore) Allow(address string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok {
		p = &txtypes.Peer{Address: address}
		s.peers[address] = p
	}
	if p.RateWindowStart.IsZero() || now.Sub(p.RateWindowStart) >= rateLimitWindow {
		p.RateWindowStart = now
		p.RateWindowCount = 0
	}
	if p.RateWindowCount >= rateLimitMaxEnvelopes {
		return false
	}
	p.RateWindowCount++
	return true
}

// Prune removes entries with last-seen older than 7 days and failure count
// at least 8, and caps the store at maxPeers (oldest last-seen evicted
// first).
func (s *PeerStore) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, p := range s.peers {
		if now.Sub(p.LastSeen) > pruneAge && p.ConsecutiveFails >= pruneFailureThreshold {
			delete(s.peers, addr)
		}
	}

	if len(s.peers) <= maxPeers {
		return
	}
	all := make([]*txtypes.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastSeen.Before(all[j].LastSeen) })
	excess := len(all) - maxPeers
	for i := 0; i < excess; i++ {
		delete(s.peers, all[i].Address)
	}
}

// LoadFile reads a peers.json array of peer records (as SaveFile writes
// them), ignoring a missing file.
func (s *PeerStore) LoadFile(path string, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("p2p: read peers file %s: %w", path, err)
	}
	var records []txtypes.Peer
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("p2p: parse peers file %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		cp := r
		s.peers[r.Address] = &cp
	}
	return nil
}

// SaveFile persists every known peer address to path as a JSON array.
func (s *PeerStore) SaveFile(path string) error {
	snapshot := s.Snapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("p2p: marshal peers: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("p2p: write peers file %s: %w", path, err)
	}
	return nil
}

// FetchBootstrap fetches addr, which is expected to return a
// newline-separated list of peer addresses, and adds each to the store.
func (s *PeerStore) FetchBootstrap(addr string, now time.Time) error {
	if addr == "" {
		return nil
	}
	resp, err := http.Get(addr)
	if err != nil {
		return fmt.Errorf("p2p: fetch bootstrap %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("p2p: bootstrap %s returned status %d", addr, resp.StatusCode)
	}

	scanner := bufio.NewScanner(io.LimitReader(resp.Body, 1<<20))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			s.Add(line, now)
		}
	}
	return scanner.Err()
}
