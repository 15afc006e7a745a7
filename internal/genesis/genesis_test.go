package genesis

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidatorsParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.yaml")
	content := "- id: validator-a\n  public_key: \"aa\"\n  stake: 100\n- id: validator-b\n  public_key: \"bb\"\n  stake: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	validators, err := LoadValidators(path)
	if err != nil {
		t.Fatalf("LoadValidators: %v", err)
	}
	if len(validators) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(validators))
	}
	if validators[0].ID != "validator-a" || validators[0].Stake != 100 || !validators[0].Active {
		t.Fatalf("unexpected first validator: %+v", validators[0])
	}
}

func TestLoadValidatorsMissingPathIsNotError(t *testing.T) {
	validators, err := LoadValidators("")
	if err != nil || validators != nil {
		t.Fatalf("expected nil, nil for empty path, got %v, %v", validators, err)
	}
}

func TestLoadValidatorsMissingFileIsNotError(t *testing.T) {
	validators, err := LoadValidators("/nonexistent/genesis.yaml")
	if err != nil || validators != nil {
		t.Fatalf("expected nil, nil for missing file, got %v, %v", validators, err)
	}
}
