package config

import (
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "LISTEN_ADDR", "ROCKSDB_PATH", "STORAGE_MODE", "ENVIRONMENT", "DB_MAX_CONNECTIONS"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.APIAddr != "0.0.0.0:8000" {
		t.Fatalf("APIAddr default = %q", cfg.APIAddr)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr default = %q", cfg.ListenAddr)
	}
	if cfg.RocksDBPath != "sled_data" {
		t.Fatalf("RocksDBPath default = %q", cfg.RocksDBPath)
	}
	if cfg.DBMaxConnections != 100 {
		t.Fatalf("DBMaxConnections default = %d", cfg.DBMaxConnections)
	}
	if cfg.RateLimitMaxRequests != 100 || cfg.RateLimitWindowSecs != 60 {
		t.Fatalf("rate limit defaults = %d/%d", cfg.RateLimitMaxRequests, cfg.RateLimitWindowSecs)
	}
}

func TestLoadSplitsPeerAddrs(t *testing.T) {
	t.Setenv("PEER_ADDRS", "10.0.0.1:9000, 10.0.0.2:9000,,10.0.0.3:9000")
	cfg := Load()
	if len(cfg.PeerAddrs) != 3 {
		t.Fatalf("expected 3 peers, got %v", cfg.PeerAddrs)
	}
	if cfg.PeerAddrs[1] != "10.0.0.2:9000" {
		t.Fatalf("expected whitespace trimmed, got %q", cfg.PeerAddrs[1])
	}
}

func TestValidateRequiresDatabaseURLForPostgres(t *testing.T) {
	cfg := &Config{APIAddr: "a", ListenAddr: "b", StorageMode: "postgres", Environment: "development"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestValidateAcceptsRocksMode(t *testing.T) {
	cfg := &Config{APIAddr: "a", ListenAddr: "b", StorageMode: "rocksdb", Environment: "development"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected rocks* mode to pass without DATABASE_URL, got %v", err)
	}
}

func TestValidateRejectsUnknownStorageMode(t *testing.T) {
	cfg := &Config{APIAddr: "a", ListenAddr: "b", StorageMode: "mongodb", Environment: "development"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown storage mode to be rejected")
	}
}

func TestValidateProductionRequiresTLS(t *testing.T) {
	cfg := &Config{
		APIAddr: "a", ListenAddr: "b", StorageMode: "postgres",
		DatabaseURL: "postgres://x", Environment: "production",
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "TLS_CERT_PATH") {
		t.Fatalf("expected TLS requirement in production, got %v", err)
	}

	cfg.TLSCertPath = "/etc/tls/cert.pem"
	cfg.TLSKeyPath = "/etc/tls/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected production config with TLS to pass, got %v", err)
	}
}
