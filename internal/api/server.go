package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ethpool/internal/ledger"
	"ethpool/internal/metrics"
	"ethpool/internal/model"
	"ethpool/internal/storage"
)

// Pool is the ledger surface served over HTTP. *ledger.Ledger implements it.
type Pool interface {
	DepositTx(ctx context.Context, account common.Address, amount *big.Int, tx common.Hash) (ledger.Member, error)
	InjectRewardTx(ctx context.Context, caller common.Address, amount *big.Int, tx common.Hash) (ledger.Distribution, error)
	Withdraw(ctx context.Context, account common.Address) (ledger.Payout, error)
	Member(ctx context.Context, account common.Address) (ledger.Member, error)
	MemberAt(ctx context.Context, position int) (ledger.Member, error)
	Members(ctx context.Context) []ledger.Member
	Stats(ctx context.Context) ledger.Stats
	Snapshot(ctx context.Context) model.Snapshot
}

// Options configures the HTTP server.
type Options struct {
	// RateLimit is the sustained requests per second allowed per client. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// Snapshots receives a snapshot every SnapshotEvery applied mutations.
	Snapshots     storage.SnapshotStore
	SnapshotEvery uint64

	// Verifier, when set, makes every deposit and reward name a funding
	// transaction that it confirms on chain. The reward caller must be the
	// transaction sender.
	Verifier FundingVerifier
	// SignedWithdrawals requires each withdrawal to carry a signature by the
	// withdrawing account over WithdrawMessage.
	SignedWithdrawals bool

	ShutdownTimeout time.Duration
}

// Server exposes pool operations over HTTP.
type Server struct {
	pool    Pool
	opts    Options
	logger  *zap.Logger
	router  *mux.Router
	limiter *rateLimiter
	now     func() time.Time

	snapMu       sync.Mutex
	snapshotSeq  uint64
	snapshotting bool
}

func NewServer(pool Pool, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		pool:   pool,
		opts:   opts,
		logger: logger,
		router: mux.NewRouter(),
		now:    time.Now,
	}
	if opts.RateLimit > 0 {
		s.limiter = newRateLimiter(opts.RateLimit, opts.RateBurst, logger)
	}
	s.snapshotSeq = pool.Stats(context.Background()).Seq
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/deposits", s.handleDeposit).Methods(http.MethodPost)
	v1.HandleFunc("/rewards", s.handleReward).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals", s.handleWithdraw).Methods(http.MethodPost)
	v1.HandleFunc("/members", s.handleListMembers).Methods(http.MethodGet)
	v1.HandleFunc("/members/{address}", s.handleGetMember).Methods(http.MethodGet)
	v1.HandleFunc("/positions/{position}", s.handleGetPosition).Methods(http.MethodGet)
	v1.HandleFunc("/pool", s.handlePool).Methods(http.MethodGet)
}

// Handler returns the instrumented, rate limited router.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if s.limiter != nil {
		h = s.limiter.Handler(h)
	}
	return metrics.InstrumentHandler(h)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.limiter != nil {
		go s.limiter.cleanup(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listen", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// afterMutation publishes pool gauges and writes a snapshot when enough
// mutations have been applied since the last one.
func (s *Server) afterMutation(ctx context.Context) {
	stats := s.pool.Stats(ctx)
	metrics.SetPool(stats.Members, stats.TotalValue, stats.Held, stats.Dust, stats.Seq)

	if s.opts.Snapshots == nil || s.opts.SnapshotEvery == 0 {
		return
	}

	s.snapMu.Lock()
	if s.snapshotting || stats.Seq < s.snapshotSeq+s.opts.SnapshotEvery {
		s.snapMu.Unlock()
		return
	}
	s.snapshotting = true
	s.snapMu.Unlock()

	snap := s.pool.Snapshot(ctx)
	err := s.opts.Snapshots.Save(context.WithoutCancel(ctx), snap)

	s.snapMu.Lock()
	s.snapshotting = false
	if err == nil && snap.Seq > s.snapshotSeq {
		s.snapshotSeq = snap.Seq
	}
	s.snapMu.Unlock()

	if err != nil {
		s.logger.Error("save snapshot", zap.Uint64("seq", snap.Seq), zap.Error(err))
		return
	}
	s.logger.Info("snapshot saved", zap.Uint64("seq", snap.Seq), zap.Int("members", len(snap.Members)))
}
