package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Stores selects where the journal and snapshot live. PGDSN wins over the file paths.
type Stores struct {
	Journal      string
	Snapshot     string
	PGDSN        string
	SnapshotName string
}

// ChainConfig holds RPC and payout wallet settings.
type ChainConfig struct {
	RPCURL           string
	PoolKey          string
	GasLimit         uint64
	ConfirmTimeout   time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	MinConfirmations uint64
}

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	Listen        string
	Operators     []string
	DustPolicy    string
	SnapshotEvery uint64
	RateLimit     float64
	RateBurst     int
	Stores        Stores
	Chain         ChainConfig
	LogLevel      string
}

// Load merges config file, environment variables, and flags into ServeConfig.
func Load(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("listen", ":8080")
		v.SetDefault("snapshot-every", uint64(100))
		v.SetDefault("rate-limit", 20.0)
		v.SetDefault("rate-burst", 40)
	})
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Listen:        v.GetString("listen"),
		Operators:     getStringSlice(v, "operator"),
		DustPolicy:    v.GetString("dust-policy"),
		SnapshotEvery: v.GetUint64("snapshot-every"),
		RateLimit:     v.GetFloat64("rate-limit"),
		RateBurst:     v.GetInt("rate-burst"),
		Stores:        loadStores(v),
		Chain:         loadChain(v),
		LogLevel:      v.GetString("log-level"),
	}

	if len(cfg.Operators) == 0 {
		return ServeConfig{}, fmt.Errorf("at least one operator address is required")
	}
	if cfg.Chain.RPCURL != "" && cfg.Chain.PoolKey == "" {
		return ServeConfig{}, fmt.Errorf("pool-key is required when rpc is set")
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("ETHPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("journal", "./data/journal.jsonl")
	v.SetDefault("snapshot", "./data/snapshot.json")
	v.SetDefault("snapshot-name", "default")
	v.SetDefault("dust-policy", "retain")
	v.SetDefault("gas-limit", uint64(21000))
	v.SetDefault("confirm-timeout", 2*time.Minute)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("min-confirmations", uint64(2))
	v.SetDefault("log-level", "info")
	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func loadStores(v *viper.Viper) Stores {
	return Stores{
		Journal:      v.GetString("journal"),
		Snapshot:     v.GetString("snapshot"),
		PGDSN:        v.GetString("pg-dsn"),
		SnapshotName: v.GetString("snapshot-name"),
	}
}

func loadChain(v *viper.Viper) ChainConfig {
	return ChainConfig{
		RPCURL:           v.GetString("rpc"),
		PoolKey:          v.GetString("pool-key"),
		GasLimit:         v.GetUint64("gas-limit"),
		ConfirmTimeout:   v.GetDuration("confirm-timeout"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		MinConfirmations: v.GetUint64("min-confirmations"),
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
