package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ethpool/internal/chain"
	"ethpool/internal/config"
	"ethpool/internal/ledger"
)

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReconcile(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	wallet, err := reconcileWallet(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Stores, logger)
	if err != nil {
		return err
	}
	defer st.close()

	pool, err := newLedger(cfg.Operators, cfg.DustPolicy, ledger.TransferFunc(noPayouts), nil, false, logger)
	if err != nil {
		return err
	}
	if err := rebuild(ctx, pool, st, logger); err != nil {
		return fmt.Errorf("rebuild ledger: %w", err)
	}

	client, err := chain.NewClient(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	onchain, err := client.BalanceAt(ctx, wallet, nil)
	if err != nil {
		return fmt.Errorf("wallet balance: %w", err)
	}

	stats := pool.Stats(ctx)
	diff := new(big.Int).Sub(onchain, stats.Held)

	logger.Info("reconcile",
		zap.String("wallet", wallet.Hex()),
		zap.Stringer("onchain", onchain),
		zap.Stringer("held", stats.Held),
		zap.Stringer("members_total", stats.TotalValue),
		zap.Stringer("dust", stats.Dust),
		zap.Stringer("difference", diff),
	)

	// the wallet also carries gas funds, so only a shortfall is an error
	if diff.Sign() < 0 {
		return fmt.Errorf("wallet balance %s is short of ledger holdings %s by %s", onchain, stats.Held, new(big.Int).Neg(diff))
	}
	return nil
}

func reconcileWallet(cfg config.ReconcileConfig) (common.Address, error) {
	if cfg.Wallet != "" {
		return ledger.ParseAddress(cfg.Wallet)
	}
	key, err := chain.ParsePrivateKey(cfg.Chain.PoolKey)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
