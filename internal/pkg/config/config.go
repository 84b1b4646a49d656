// Package config maps viper configuration keys onto engine settings.
// Keys live under the "engine" and "store" sections of the config file
// and are overridable through environment variables and flags.
package config

import (
	"github.com/spf13/viper"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
)

// Engine returns the compile-time complexity bounds, starting from the
// defaults and applying any configured overrides.
func Engine() automaton.Config {
	cfg := automaton.DefaultConfig()
	if v := viper.GetInt("engine.state_budget"); v > 0 {
		cfg.StateBudget = v
	}
	if v := viper.GetInt("engine.max_pattern_length"); v > 0 {
		cfg.MaxPatternLength = v
	}
	if v := viper.GetInt("engine.max_alternation"); v > 0 {
		cfg.MaxAlternation = v
	}
	if v := viper.GetInt("engine.max_unbounded_repeat_depth"); v > 0 {
		cfg.MaxUnboundedRepeatDepth = v
	}
	return cfg
}

// StoreDSN returns the pattern store connection string, empty when no
// store is configured.
func StoreDSN() string {
	return viper.GetString("store.dsn")
}

// ChunkSize returns the read buffer size for stream scanning.
func ChunkSize() int {
	if v := viper.GetInt("engine.chunk_size"); v > 0 {
		return v
	}
	return 64 * 1024
}
