// Package genesis loads the initial validator set a fresh chain bootstraps
// with, from a YAML file operators distribute out-of-band to every
// participating node before first launch.
package genesis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/certen/ledgernode/internal/txtypes"
)

// ValidatorEntry is one YAML-described genesis validator.
type ValidatorEntry struct {
	ID        string `yaml:"id"`
	PublicKey string `yaml:"public_key"`
	Stake     uint64 `yaml:"stake"`
}

// LoadValidators reads a genesis validator list from path. A missing path
// or missing file is not an error: callers fall back to self-registration
// when no genesis file is configured for this deployment.
func LoadValidators(path string) ([]txtypes.Validator, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}

	var entries []ValidatorEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}

	out := make([]txtypes.Validator, 0, len(entries))
	for _, e := range entries {
		out = append(out, txtypes.Validator{ID: e.ID, PubKey: e.PublicKey, Stake: e.Stake, Active: true})
	}
	return out, nil
}
