package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "ethpool",
		Short:        "Pooled deposit ledger with proportional reward distribution",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pool HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringSlice("operator", nil, "addresses allowed to inject rewards (comma-separated)")
	serveCmd.Flags().String("dust-policy", "retain", "rounding residue policy (retain, carry)")
	serveCmd.Flags().Uint64("snapshot-every", 100, "write a snapshot every N mutations, 0 disables")
	serveCmd.Flags().Float64("rate-limit", 20, "requests per second per client, 0 disables")
	serveCmd.Flags().Int("rate-burst", 40, "rate limit burst")
	addStoreFlags(serveCmd)
	addChainFlags(serveCmd)
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the ledger from snapshot and journal",
		RunE:  runReplay,
	}

	addStoreFlags(replayCmd)
	replayCmd.Flags().String("dust-policy", "retain", "rounding residue policy (retain, carry)")
	replayCmd.Flags().String("out", "", "write the rebuilt snapshot to this path")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare pool holdings with the on-chain wallet balance",
		RunE:  runReconcile,
	}

	addStoreFlags(reconcileCmd)
	addChainFlags(reconcileCmd)
	reconcileCmd.Flags().String("dust-policy", "retain", "rounding residue policy (retain, carry)")
	reconcileCmd.Flags().String("wallet", "", "pool wallet address (derived from pool-key when empty)")
	reconcileCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(reconcileCmd)

	withdrawCmd := &cobra.Command{
		Use:   "withdraw-request",
		Short: "Print a signed withdrawal request body",
		RunE:  runWithdrawRequest,
	}

	withdrawCmd.Flags().String("key", "", "account private key (hex), defaults to ETHPOOL_ACCOUNT_KEY")
	withdrawCmd.Flags().Duration("ttl", 5*time.Minute, "signature lifetime, at most 10m")

	root.AddCommand(withdrawCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("journal", "./data/journal.jsonl", "journal JSONL path")
	cmd.Flags().String("snapshot", "./data/snapshot.json", "snapshot file path")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (replaces the journal and snapshot files)")
	cmd.Flags().String("snapshot-name", "default", "snapshot row name in Postgres")
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().Uint64("gas-limit", 21000, "gas limit for payout transactions")
	cmd.Flags().Duration("confirm-timeout", 2*time.Minute, "time to wait for a payout receipt")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Uint64("min-confirmations", 2, "block depth a funding transaction needs before it is credited")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
