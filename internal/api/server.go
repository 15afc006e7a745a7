// Package api implements the node's client-facing HTTP surface:
// transaction submission and lookup, mempool and block inspection,
// Merkle inclusion proofs, peer listing and health reporting. Transaction
// admission delegates signature verification and queuing to the crypto
// and batch-writer packages; request-level rate limiting and (pass-through)
// auth live here.
package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/certen/ledgernode/internal/consensus"
	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/mempool"
	"github.com/certen/ledgernode/internal/p2p"
	"github.com/certen/ledgernode/internal/relstore"
)

// Config configures a Server.
type Config struct {
	Addr                 string
	RateLimitMaxRequests int
	RateLimitWindowSecs  int
	TLSCertPath          string
	TLSKeyPath           string
}

// Server is the node's HTTP API surface.
type Server struct {
	cfg     Config
	mux     *http.ServeMux
	limiter *RateLimiter
	logger  *log.Logger

	mempool  *mempool.Mempool
	repos    *relstore.Repositories
	dbClient *relstore.Client
	kv       *kvstore.Store
	peers    *p2p.Node
	replica  *consensus.Replica

	startedAt time.Time
}

// New builds a Server with every route registered.
func New(cfg Config, mp *mempool.Mempool, repos *relstore.Repositories, dbClient *relstore.Client, kv *kvstore.Store, peers *p2p.Node, replica *consensus.Replica, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	if cfg.RateLimitMaxRequests <= 0 {
		cfg.RateLimitMaxRequests = 100
	}
	if cfg.RateLimitWindowSecs <= 0 {
		cfg.RateLimitWindowSecs = 60
	}

	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		limiter:   NewRateLimiter(cfg.RateLimitMaxRequests, time.Duration(cfg.RateLimitWindowSecs)*time.Second),
		logger:    logger,
		mempool:   mp,
		repos:     repos,
		dbClient:  dbClient,
		kv:        kv,
		peers:     peers,
		replica:   replica,
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("/tx/submit", s.handleSubmit)
	s.handle("/tx/hash/", s.handleGetByHash)
	s.handle("/tx/", s.handleGetByID)
	s.handle("/mempool", s.handleMempool)
	s.handle("/proof/", s.handleProof)
	s.handle("/block/", s.handleBlock)
	s.handle("/peers", s.handlePeers)
	s.handle("/anchor", s.handleAnchor)
	s.handle("/health/detailed", s.handleHealthDetailed)
	s.handle("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.newMetricsHandler())
}

// handle registers pattern behind the rate-limit middleware.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.withRateLimit(h))
}

// withRateLimit enforces the per-client-IP token bucket ahead of every
// route; request-level credential checks are transparently pass-through
// (transaction-level Ed25519 verification is the real authentication,
// applied inside handleSubmit).
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := clientIP(r)
		if !s.limiter.Allow(clientID) {
			writeError(w, s.logger, ErrRateLimited, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ListenAndServe starts the HTTP(S) listener and blocks until ctx is
// canceled, then shuts the server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.mux}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != "" {
			s.logger.Printf("listening (tls) on %s", s.cfg.Addr)
			err = srv.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			s.logger.Printf("listening on %s", s.cfg.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
