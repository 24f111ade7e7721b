package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReconcileConfig holds configuration for the reconcile command.
type ReconcileConfig struct {
	Stores     Stores
	Operators  []string
	DustPolicy string
	Chain      ChainConfig
	// Wallet is the address whose balance backs the pool. Derived from PoolKey when empty.
	Wallet   string
	LogLevel string
}

// LoadReconcile merges config file, environment variables, and flags into ReconcileConfig.
func LoadReconcile(cfgFile string, flags *pflag.FlagSet) (ReconcileConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("max-retries", 3)
	})
	if err != nil {
		return ReconcileConfig{}, err
	}

	cfg := ReconcileConfig{
		Stores:     loadStores(v),
		Operators:  getStringSlice(v, "operator"),
		DustPolicy: v.GetString("dust-policy"),
		Chain:      loadChain(v),
		Wallet:     v.GetString("wallet"),
		LogLevel:   v.GetString("log-level"),
	}
	if cfg.Chain.RPCURL == "" {
		return ReconcileConfig{}, fmt.Errorf("rpc url is required")
	}
	if cfg.Wallet == "" && cfg.Chain.PoolKey == "" {
		return ReconcileConfig{}, fmt.Errorf("wallet or pool-key is required")
	}
	return cfg, nil
}
