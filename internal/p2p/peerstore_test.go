package p2p

import (
	"testing"
	"time"
)

func TestPeerStoreBanAfterThreshold(t *testing.T) {
	s := NewPeerStore(nil)
	now := time.Now()
	s.Add("peer:1", now)

	for i := 0; i < banThreshold; i++ {
		s.RecordFailure("peer:1", now)
	}
	if !s.Banned("peer:1", now) {
		t.Fatal("expected peer to be banned after threshold failures")
	}
	if s.Banned("peer:1", now.Add(banDuration+time.Second)) {
		t.Fatal("ban should have expired")
	}
}

func TestPeerStoreRecordSuccessResetsFailures(t *testing.T) {
	s := NewPeerStore(nil)
	now := time.Now()
	s.Add("peer:1", now)
	s.RecordFailure("peer:1", now)
	s.RecordFailure("peer:1", now)
	s.RecordSuccess("peer:1", now)

	for _, p := range s.Snapshot() {
		if p.Address == "peer:1" && p.ConsecutiveFails != 0 {
			t.Fatalf("expected failure count reset, got %d", p.ConsecutiveFails)
		}
	}
}

func TestPeerStoreRateLimit(t *testing.T) {
	s := NewPeerStore(nil)
	now := time.Now()

	for i := 0; i < rateLimitMaxEnvelopes; i++ {
		if !s.Allow("peer:1", now) {
			t.Fatalf("expected envelope %d to be allowed", i)
		}
	}
	if s.Allow("peer:1", now) {
		t.Fatal("expected envelope beyond the window limit to be rejected")
	}
	if !s.Allow("peer:1", now.Add(rateLimitWindow+time.Second)) {
		t.Fatal("expected a new window to reset the limit")
	}
}

func TestPeerStorePruneByAgeAndFailures(t *testing.T) {
	s := NewPeerStore(nil)
	old := time.Now().Add(-8 * 24 * time.Hour)
	s.Add("stale:1", old)
	for i := 0; i < pruneFailureThreshold; i++ {
		s.RecordFailure("stale:1", old)
	}

	s.Add("fresh:1", time.Now())

	s.Prune(time.Now())

	addrs := make(map[string]bool)
	for _, p := range s.Snapshot() {
		addrs[p.Address] = true
	}
	if addrs["stale:1"] {
		t.Fatal("expected stale, high-failure peer to be pruned")
	}
	if !addrs["fresh:1"] {
		t.Fatal("expected fresh peer to be retained")
	}
}
