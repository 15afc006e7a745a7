package consensus

import (
	"sort"

	"github.com/certen/ledgernode/internal/txtypes"
)

// ValidatorSet is the known validator roster a replica checks proposals
// and votes against. Ordered deterministically by id so every replica
// derives the same leader for a given view.
type ValidatorSet struct {
	validators []txtypes.Validator
	byID       map[string]txtypes.Validator
}

// NewValidatorSet builds a ValidatorSet from validators, sorted by id.
func NewValidatorSet(validators []txtypes.Validator) *ValidatorSet {
	sorted := make([]txtypes.Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]txtypes.Validator, len(sorted))
	for _, v := range sorted {
		byID[v.ID] = v
	}
	return &ValidatorSet{validators: sorted, byID: byID}
}

// Size returns the total validator count (3f+1).
func (s *ValidatorSet) Size() int { return len(s.validators) }

// MaxFaulty returns f, the maximum tolerated Byzantine validators, given
// n = 3f+1.
func (s *ValidatorSet) MaxFaulty() int {
	n := len(s.validators)
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// QuorumSize returns 2f+1, the number of matching signatures required to
// finalize a block in a view.
func (s *ValidatorSet) QuorumSize() int {
	return 2*s.MaxFaulty() + 1
}

// Leader returns the deterministic leader for view v: v mod |validators|.
func (s *ValidatorSet) Leader(view uint64) (txtypes.Validator, bool) {
	n := len(s.validators)
	if n == 0 {
		return txtypes.Validator{}, false
	}
	return s.validators[int(view%uint64(n))], true
}

// Known reports whether id names a validator in this set.
func (s *ValidatorSet) Known(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Get returns the validator record for id.
func (s *ValidatorSet) Get(id string) (txtypes.Validator, bool) {
	v, ok := s.byID[id]
	return v, ok
}
