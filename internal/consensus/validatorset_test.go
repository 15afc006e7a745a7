package consensus

import (
	"testing"

	"github.com/certen/ledgernode/internal/txtypes"
)

func sampleValidatorSet(n int) *ValidatorSet {
	validators := make([]txtypes.Validator, n)
	for i := 0; i < n; i++ {
		validators[i] = txtypes.Validator{ID: string(rune('a' + i)), Active: true}
	}
	return NewValidatorSet(validators)
}

func TestValidatorSetQuorumMath(t *testing.T) {
	cases := []struct {
		n, wantFaulty, wantQuorum int
	}{
		{1, 0, 1},
		{4, 1, 3},
		{7, 2, 5},
		{10, 3, 7},
	}
	for _, c := range cases {
		vs := sampleValidatorSet(c.n)
		if got := vs.MaxFaulty(); got != c.wantFaulty {
			t.Errorf("n=%d: MaxFaulty() = %d, want %d", c.n, got, c.wantFaulty)
		}
		if got := vs.QuorumSize(); got != c.wantQuorum {
			t.Errorf("n=%d: QuorumSize() = %d, want %d", c.n, got, c.wantQuorum)
		}
	}
}

func TestValidatorSetLeaderRotatesDeterministically(t *testing.T) {
	vs := sampleValidatorSet(4)

	first, ok := vs.Leader(0)
	if !ok {
		t.Fatal("expected a leader for view 0")
	}
	wrapped, ok := vs.Leader(4)
	if !ok {
		t.Fatal("expected a leader for view 4")
	}
	if first.ID != wrapped.ID {
		t.Fatalf("expected leader rotation to wrap every n views: view0=%s view4=%s", first.ID, wrapped.ID)
	}

	seen := make(map[string]bool)
	for v := uint64(0); v < 4; v++ {
		l, _ := vs.Leader(v)
		seen[l.ID] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected all 4 validators to lead exactly one of the first 4 views, saw %d distinct leaders", len(seen))
	}
}

func TestValidatorSetEmptyHasNoLeader(t *testing.T) {
	vs := NewValidatorSet(nil)
	if _, ok := vs.Leader(0); ok {
		t.Fatal("expected no leader for an empty validator set")
	}
	if vs.QuorumSize() != 1 {
		t.Fatalf("expected QuorumSize 1 (2*0+1) for empty set, got %d", vs.QuorumSize())
	}
}

func TestValidatorSetKnownAndGet(t *testing.T) {
	vs := sampleValidatorSet(3)
	if !vs.Known("a") {
		t.Fatal("expected validator a to be known")
	}
	if vs.Known("z") {
		t.Fatal("did not expect validator z to be known")
	}
	if _, ok := vs.Get("b"); !ok {
		t.Fatal("expected Get to find validator b")
	}
}
