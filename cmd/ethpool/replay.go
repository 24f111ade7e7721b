package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ethpool/internal/config"
	"ethpool/internal/ledger"
	"ethpool/internal/storage"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
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

	// no journal: replay must not write
	pool, err := newLedger(cfg.Operators, cfg.DustPolicy, ledger.TransferFunc(noPayouts), nil, false, logger)
	if err != nil {
		return err
	}
	if err := rebuild(ctx, pool, st, logger); err != nil {
		return fmt.Errorf("rebuild ledger: %w", err)
	}

	for _, m := range pool.Members(ctx) {
		logger.Info("member",
			zap.Int("position", m.Position),
			zap.String("address", m.Address.Hex()),
			zap.Stringer("balance", m.Balance),
		)
	}

	if cfg.Out != "" {
		snap := pool.Snapshot(ctx)
		out := &storage.FileSnapshotStore{Path: cfg.Out}
		if err := out.Save(ctx, snap); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		logger.Info("snapshot written", zap.String("out", cfg.Out), zap.Uint64("seq", snap.Seq))
	}
	return nil
}
