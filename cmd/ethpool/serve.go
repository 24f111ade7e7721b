package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ethpool/internal/api"
	"ethpool/internal/chain"
	"ethpool/internal/config"
	"ethpool/internal/ledger"
	"ethpool/internal/metrics"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Stores, logger)
	if err != nil {
		return err
	}
	defer st.close()

	wiring, err := newChainWiring(ctx, cfg.Chain, logger)
	if err != nil {
		return err
	}
	defer wiring.close()

	pool, err := newLedger(cfg.Operators, cfg.DustPolicy, wiring.transfer, st.journal, wiring.verifier != nil, logger)
	if err != nil {
		return err
	}
	if err := rebuild(ctx, pool, st, logger); err != nil {
		return fmt.Errorf("rebuild ledger: %w", err)
	}

	stats := pool.Stats(ctx)
	metrics.SetPool(stats.Members, stats.TotalValue, stats.Held, stats.Dust, stats.Seq)

	server := api.NewServer(pool, serveOptions(cfg, st, wiring), logger)

	logger.Info("serve start",
		zap.String("listen", cfg.Listen),
		zap.Strings("operators", cfg.Operators),
		zap.String("dust_policy", cfg.DustPolicy),
		zap.Bool("onchain_payouts", wiring.verifier != nil),
		zap.Uint64("min_confirmations", cfg.Chain.MinConfirmations),
		zap.Uint64("snapshot_every", cfg.SnapshotEvery),
		zap.Float64("rate_limit", cfg.RateLimit),
	)

	serveErr := server.Run(ctx, cfg.Listen)

	snap := pool.Snapshot(context.Background())
	if err := st.snapshots.Save(context.Background(), snap); err != nil {
		logger.Error("save final snapshot", zap.Error(err))
	} else {
		logger.Info("final snapshot saved", zap.Uint64("seq", snap.Seq), zap.Int("members", len(snap.Members)))
	}
	return serveErr
}

// chainWiring is what serve needs from the chain: who pays withdrawals and
// who proves deposits and rewards were paid in.
type chainWiring struct {
	transfer ledger.Transferer
	verifier *chain.FundingVerifier
	close    func()
}

// serveOptions enables funding checks and signed withdrawals whenever real
// payouts are wired, so nothing leaves the pool wallet that was not paid into it.
func serveOptions(cfg config.ServeConfig, st *stores, wiring chainWiring) api.Options {
	opts := api.Options{
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		Snapshots:     st.snapshots,
		SnapshotEvery: cfg.SnapshotEvery,
	}
	if wiring.verifier != nil {
		opts.Verifier = wiring.verifier
		opts.SignedWithdrawals = true
	}
	return opts
}

// newChainWiring returns the on-chain Payer and FundingVerifier when an RPC
// URL is configured, and a transfer that only logs otherwise.
func newChainWiring(ctx context.Context, cfg config.ChainConfig, logger *zap.Logger) (chainWiring, error) {
	if cfg.RPCURL == "" {
		logger.Warn("no rpc configured, payouts are logged only")
		return chainWiring{
			transfer: ledger.TransferFunc(func(_ context.Context, to common.Address, amount *big.Int) error {
				logger.Info("payout (dry run)", zap.String("to", to.Hex()), zap.Stringer("amount", amount))
				return nil
			}),
			close: func() {},
		}, nil
	}

	key, err := chain.ParsePrivateKey(cfg.PoolKey)
	if err != nil {
		return chainWiring{}, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return chainWiring{}, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return chainWiring{}, fmt.Errorf("get chain id: %w", err)
	}

	payer, err := chain.NewPayer(chain.PayerConfig{
		Key:            key,
		ChainID:        chainID,
		GasLimit:       cfg.GasLimit,
		ConfirmTimeout: cfg.ConfirmTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}, client, logger)
	if err != nil {
		client.Close()
		return chainWiring{}, err
	}

	verifier, err := chain.NewFundingVerifier(chain.FundingConfig{
		Wallet:           payer.Address(),
		ChainID:          chainID,
		MinConfirmations: cfg.MinConfirmations,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     cfg.RetryBackoff,
	}, client, logger)
	if err != nil {
		client.Close()
		return chainWiring{}, err
	}

	logger.Info("payer ready",
		zap.String("wallet", payer.Address().Hex()),
		zap.Stringer("chain_id", chainID),
	)
	return chainWiring{transfer: payer, verifier: verifier, close: client.Close}, nil
}
