package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/api"
	"github.com/certen/ledgernode/internal/batchwriter"
	"github.com/certen/ledgernode/internal/commit"
	"github.com/certen/ledgernode/internal/config"
	"github.com/certen/ledgernode/internal/consensus"
	"github.com/certen/ledgernode/internal/executor"
	"github.com/certen/ledgernode/internal/genesis"
	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/mempool"
	"github.com/certen/ledgernode/internal/p2p"
	"github.com/certen/ledgernode/internal/relstore"
	"github.com/certen/ledgernode/internal/txtypes"
)

func main() {
	log.Printf("starting ledger node...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}
	log.Printf("config: %s", cfg.Summary())

	priv, pub, err := loadOrGenerateNodeKey(cfg)
	if err != nil {
		log.Fatalf("node key: %v", err)
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = hex.EncodeToString(pub)[:16]
	}
	log.Printf("node id: %s", nodeID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// STORAGE_MODE=postgres runs the full stack with the relational store
	// as the authority; rocks* runs lightweight on the embedded KV store
	// alone.
	var (
		dbClient *relstore.Client
		repos    *relstore.Repositories
	)
	if cfg.StorageMode == "postgres" {
		dbClient, err = relstore.NewClient(ctx, cfg.DatabaseURL, cfg.DBMaxConnections)
		if err != nil {
			log.Fatalf("relational store: %v", err)
		}
		defer dbClient.Close()

		if err := dbClient.MigrateUp(ctx); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		repos = relstore.NewRepositories(dbClient)
	} else {
		log.Printf("lightweight storage mode (%s): relational store disabled", cfg.StorageMode)
	}

	kv, err := kvstore.Open("ledgernode", cfg.RocksDBPath)
	if err != nil {
		log.Fatalf("kv store: %v", err)
	}
	defer kv.Close()

	logger := log.New(log.Writer(), "", log.LstdFlags)

	var (
		txRepo *relstore.TransactionRepository
		mpRepo *relstore.MempoolRepository
	)
	if repos != nil {
		txRepo, mpRepo = repos.Transactions, repos.Mempool
	}
	writer := batchwriter.New(txRepo, mpRepo, kv, logger)
	go writer.Run(ctx)
	defer writer.Stop()

	mp := mempool.New(writer)
	if err := mp.Rehydrate(kv); err != nil {
		log.Printf("mempool rehydrate: %v", err)
	}
	log.Printf("mempool rehydrated: %d pending transactions", mp.Size())

	node := p2p.New(p2p.Config{
		NodeID:     nodeID,
		ListenAddr: cfg.ListenAddr,
		PrivateKey: priv,
		PublicKey:  pub,
		PeersFile:  cfg.PeersFile,
		Logger:     log.New(log.Writer(), "[p2p] ", log.LstdFlags),
	}, mp)
	node.Seed(cfg.PeerAddrs)
	if err := node.PeerStore().LoadFile(cfg.PeersFile, time.Now()); err != nil {
		log.Printf("peers file %s: %v", cfg.PeersFile, err)
	}
	if cfg.BootstrapURL != "" {
		if err := node.PeerStore().FetchBootstrap(cfg.BootstrapURL, time.Now()); err != nil {
			log.Printf("bootstrap %s: %v", cfg.BootstrapURL, err)
		}
	}

	go func() {
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		if err := node.Run(ctx, stop); err != nil {
			log.Printf("p2p node stopped: %v", err)
		}
	}()

	exec := executor.New(kv)
	var sqlDB *sql.DB
	if dbClient != nil {
		sqlDB = dbClient.DB()
	}
	pipeline := commit.New(sqlDB, repos, kv, mp, exec, log.New(log.Writer(), "[commit] ", log.LstdFlags))

	var validators []txtypes.Validator
	if repos != nil {
		validators, err = repos.Validators.List(ctx)
		if err != nil {
			log.Fatalf("load validator set: %v", err)
		}
	}
	if len(validators) == 0 {
		seed, err := genesis.LoadValidators(cfg.GenesisValidatorsPath)
		if err != nil {
			log.Fatalf("load genesis validators: %v", err)
		}
		for _, v := range seed {
			if repos == nil {
				continue
			}
			if err := repos.Validators.Upsert(ctx, &v); err != nil {
				log.Fatalf("register genesis validator %s: %v", v.ID, err)
			}
		}
		validators = seed
		if len(seed) > 0 {
			log.Printf("registered %d genesis validators from %s", len(seed), cfg.GenesisValidatorsPath)
		}
	}
	if !hasValidator(validators, nodeID) {
		self := &txtypes.Validator{ID: nodeID, PubKey: hex.EncodeToString(pub), Stake: 1, Active: true}
		if repos != nil {
			if err := repos.Validators.Upsert(ctx, self); err != nil {
				log.Fatalf("register self as validator: %v", err)
			}
		}
		validators = append(validators, *self)
		log.Printf("registered self as a new validator (stake=1)")
	}
	validatorSet := consensus.NewValidatorSet(validators)
	log.Printf("validator set: n=%d f=%d quorum=%d", validatorSet.Size(), validatorSet.MaxFaulty(), validatorSet.QuorumSize())

	transport := consensus.NewTransport(log.New(log.Writer(), "[consensus] ", log.LstdFlags))
	bftAddr := fmt.Sprintf("0.0.0.0:%d", cfg.BFTPort)
	if err := transport.Listen(ctx, bftAddr); err != nil {
		log.Fatalf("consensus transport listen: %v", err)
	}
	transport.ConnectPeers(ctx, cfg.BFTPeers)

	startHeight, startID, err := latestChainTip(ctx, repos, kv)
	if err != nil {
		log.Fatalf("load chain tip: %v", err)
	}
	log.Printf("resuming from height=%d parent=%s", startHeight, startID)

	var evidence consensus.EvidenceSink
	if repos != nil {
		evidence = repos.Evidence
	}
	replica := consensus.NewReplica(nodeID, priv, validatorSet, transport, mp, evidence, pipeline.Commit,
		startHeight, startID, log.New(log.Writer(), "[consensus] ", log.LstdFlags))
	go replica.Run(ctx)

	server := api.New(api.Config{
		Addr:                 cfg.APIAddr,
		RateLimitMaxRequests: cfg.RateLimitMaxRequests,
		RateLimitWindowSecs:  cfg.RateLimitWindowSecs,
		TLSCertPath:          cfg.TLSCertPath,
		TLSKeyPath:           cfg.TLSKeyPath,
	}, mp, repos, dbClient, kv, node, replica, log.New(log.Writer(), "[api] ", log.LstdFlags))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	log.Printf("node ready: api=%s p2p=%s bft=%s", cfg.APIAddr, cfg.ListenAddr, bftAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Printf("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Printf("api server exited: %v", err)
		}
	}

	cancel()
	select {
	case <-serveErr:
	case <-time.After(10 * time.Second):
		log.Printf("api server shutdown timed out")
	}
	log.Printf("node stopped")
}

// loadOrGenerateNodeKey decodes an Ed25519 private key from
// NODE_KEYPAIR_HEX (the 64-byte hex.EncodeToString form of an Ed25519
// private key) or, when unset, generates an ephemeral one for the life of
// this process. An ephemeral key means this node's validator identity
// changes across restarts, acceptable for development but never for a
// node whose stake must persist, so production deployments must set
// NODE_KEYPAIR_HEX explicitly.
func loadOrGenerateNodeKey(cfg *config.Config) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if cfg.NodeKeypairHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		log.Printf("NODE_KEYPAIR_HEX not set, generated an ephemeral key (public_key=%s)", hex.EncodeToString(pub))
		return priv, pub, nil
	}

	keyBytes, err := hex.DecodeString(strings.TrimSpace(cfg.NodeKeypairHex))
	if err != nil {
		return nil, nil, fmt.Errorf("decode NODE_KEYPAIR_HEX: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("NODE_KEYPAIR_HEX: expected %d bytes, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}
	priv := ed25519.PrivateKey(keyBytes)
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub, nil
}

func hasValidator(validators []txtypes.Validator, id string) bool {
	for _, v := range validators {
		if v.ID == id {
			return true
		}
	}
	return false
}

// latestChainTip returns the height and block id a resuming replica should
// build its next proposal on top of: genesis (height 0, a nil id) if no
// block has ever committed. The relational store is consulted when
// present; lightweight deployments resume from the KV cache's state keys.
func latestChainTip(ctx context.Context, repos *relstore.Repositories, kv *kvstore.Store) (uint64, uuid.UUID, error) {
	if repos != nil {
		block, err := repos.Blocks.LatestBlock(ctx)
		if err != nil {
			return 0, uuid.UUID{}, err
		}
		if block == nil {
			return 0, uuid.UUID{}, nil
		}
		return block.Height, block.ID, nil
	}

	heightRaw, err := kv.Get(kvstore.LatestHeightKey())
	if err == kvstore.ErrNotFound {
		return 0, uuid.UUID{}, nil
	}
	if err != nil {
		return 0, uuid.UUID{}, err
	}
	idRaw, err := kv.Get(kvstore.LatestBlockKey())
	if err != nil {
		return 0, uuid.UUID{}, err
	}
	id, err := uuid.Parse(string(idRaw))
	if err != nil {
		return 0, uuid.UUID{}, fmt.Errorf("parse persisted latest block id: %w", err)
	}
	return kvstore.DecodeHeight(heightRaw), id, nil
}
