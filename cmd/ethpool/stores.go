package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ethpool/internal/config"
	"ethpool/internal/ledger"
	"ethpool/internal/storage"
	"ethpool/internal/storage/postgres"
)

type stores struct {
	journal   storage.Journal
	snapshots storage.SnapshotStore
	close     func()
}

func openStores(ctx context.Context, cfg config.Stores, logger *zap.Logger) (*stores, error) {
	if cfg.PGDSN == "" {
		logger.Info("file stores",
			zap.String("journal", cfg.Journal),
			zap.String("snapshot", cfg.Snapshot),
		)
		return &stores{
			journal:   storage.NewJsonlJournal(cfg.Journal),
			snapshots: &storage.FileSnapshotStore{Path: cfg.Snapshot},
			close:     func() {},
		}, nil
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("postgres stores",
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("snapshot_name", cfg.SnapshotName),
	)
	return &stores{
		journal:   &storage.DBJournal{Store: store},
		snapshots: &storage.DBSnapshotStore{Store: store, Name: cfg.SnapshotName},
		close:     store.Close,
	}, nil
}

// newLedger builds a ledger authorizing the given operators. With no
// operators no caller may inject rewards, which is enough for offline rebuilds.
func newLedger(operators []string, dustPolicy string, transfer ledger.Transferer, journal ledger.Journal, requireFunding bool, logger *zap.Logger) (*ledger.Ledger, error) {
	addrs, err := ledger.ParseAddresses(operators)
	if err != nil {
		return nil, fmt.Errorf("parse operators: %w", err)
	}
	policy, err := ledger.ParseDustPolicy(dustPolicy)
	if err != nil {
		return nil, err
	}

	cfg := ledger.Config{
		Transfer:   transfer,
		Journal:    journal,
		DustPolicy: policy,
		Authorize:  ledger.Operators(addrs...),

		RequireFunding: requireFunding,
	}
	if len(addrs) > 0 {
		cfg.Operator = addrs[0]
	}
	return ledger.New(cfg, logger)
}

// rebuild restores the latest snapshot and replays the journal after it.
func rebuild(ctx context.Context, l *ledger.Ledger, st *stores, logger *zap.Logger) error {
	snap, ok, err := st.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		if err := l.Restore(snap); err != nil {
			return err
		}
	}

	after := l.Stats(ctx).Seq
	records, err := st.journal.Load(ctx, after)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	applied, err := l.Replay(ctx, records)
	if err != nil {
		return err
	}

	stats := l.Stats(ctx)
	logger.Info("ledger rebuilt",
		zap.Bool("snapshot", ok),
		zap.Uint64("snapshot_seq", after),
		zap.Int("replayed", applied),
		zap.Uint64("seq", stats.Seq),
		zap.Int("members", stats.Members),
		zap.Stringer("held", stats.Held),
		zap.Stringer("dust", stats.Dust),
	)
	return nil
}

func noPayouts(_ context.Context, to common.Address, _ *big.Int) error {
	return fmt.Errorf("payouts disabled in this command: %s", to.Hex())
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
