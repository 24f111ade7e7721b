package config

import (
	"github.com/spf13/pflag"
)

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Stores     Stores
	Operators  []string
	DustPolicy string
	Out        string
	LogLevel   string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags, nil)
	if err != nil {
		return ReplayConfig{}, err
	}

	return ReplayConfig{
		Stores:     loadStores(v),
		Operators:  getStringSlice(v, "operator"),
		DustPolicy: v.GetString("dust-policy"),
		Out:        v.GetString("out"),
		LogLevel:   v.GetString("log-level"),
	}, nil
}
