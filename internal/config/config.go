// Package config loads node configuration from environment variables: a
// flat Config struct populated by Load(), validated by Validate() before
// the node starts.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"os"
)

// Config holds all configuration recognized by the node.
type Config struct {
	APIAddr    string
	ListenAddr string

	PeerAddrs    []string
	BootstrapURL string

	NodeKeypairHex string
	NodeID         string

	DatabaseURL      string
	DBMaxConnections int

	RocksDBPath string

	RateLimitMaxRequests int
	RateLimitWindowSecs  int

	TLSCertPath string
	TLSKeyPath  string

	BFTPeers      []string
	BFTPort       int
	BFTSecretSeed string

	StorageMode string // "postgres" or "rocks*"
	Environment string // "production" enforces stricter validation

	PeersFile string

	GenesisValidatorsPath string
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() *Config {
	return &Config{
		APIAddr:    getEnv("API_ADDR", "0.0.0.0:8000"),
		ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0:9000"),

		PeerAddrs:    splitCSV(getEnv("PEER_ADDRS", "")),
		BootstrapURL: getEnv("BOOTSTRAP_URL", ""),

		NodeKeypairHex: getEnv("NODE_KEYPAIR_HEX", ""),
		NodeID:         getEnv("NODE_ID", ""),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DBMaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 100),

		RocksDBPath: getEnv("ROCKSDB_PATH", "sled_data"),

		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitWindowSecs:  getEnvInt("RATE_LIMIT_WINDOW_SECS", 60),

		TLSCertPath: getEnv("TLS_CERT_PATH", ""),
		TLSKeyPath:  getEnv("TLS_KEY_PATH", ""),

		BFTPeers:      splitCSV(getEnv("BFT_PEERS", "")),
		BFTPort:       getEnvInt("BFT_PORT", 26656),
		BFTSecretSeed: getEnv("BFT_SECRET_SEED", ""),

		StorageMode: getEnv("STORAGE_MODE", "postgres"),
		Environment: getEnv("ENVIRONMENT", "development"),

		PeersFile: getEnv("PEERS_FILE", "peers.json"),

		GenesisValidatorsPath: getEnv("GENESIS_VALIDATORS_PATH", ""),
	}
}

// Validate checks configuration consistency. In production mode TLS files
// and a database URL are mandatory. The returned error lists every
// violation, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.APIAddr == "" {
		errs = append(errs, "API_ADDR must not be empty")
	}
	if c.ListenAddr == "" {
		errs = append(errs, "LISTEN_ADDR must not be empty")
	}

	switch c.StorageMode {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORAGE_MODE=postgres")
		}
	case "":
		errs = append(errs, "STORAGE_MODE must not be empty")
	default:
		if !strings.HasPrefix(c.StorageMode, "rocks") {
			errs = append(errs, fmt.Sprintf("STORAGE_MODE %q not recognized (postgres or rocks*)", c.StorageMode))
		}
	}

	if c.Environment == "production" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			errs = append(errs, "TLS_CERT_PATH and TLS_KEY_PATH are required when ENVIRONMENT=production")
		}
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when ENVIRONMENT=production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Summary returns a human-readable configuration summary printed at
// startup.
func (c *Config) Summary() string {
	return fmt.Sprintf(
		"api=%s listen=%s storage=%s env=%s db_max_conns=%d peers=%d bootstrap=%q",
		c.APIAddr, c.ListenAddr, c.StorageMode, c.Environment, c.DBMaxConnections,
		len(c.PeerAddrs), c.BootstrapURL,
	)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
