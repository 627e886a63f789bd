// Package config loads the engine's runtime tunables from environment
// variables, in the WARPCORE_-prefixed style: load with LoadFromEnv, then
// check Validate before using the result.
//
// Environment Variables:
//
//	WARPCORE_WORKERS              - BOAW worker pool size (default: number of CPUs)
//	WARPCORE_NUM_SHARDS            - shard count override, for tests only (default: 256)
//	WARPCORE_ENFORCE_FOOTPRINTS     - reject ops outside a rule's declared footprint (default: true)
//	WARPCORE_HISTORY_CAPACITY       - number of committed ticks snapshot_history retains (default: 1024)
//	WARPCORE_LOG_LEVEL              - debug|info|warn|error (default: info)
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds every runtime tunable the engine reads at startup.
type Config struct {
	// Workers is the BOAW executor's worker pool size.
	Workers int
	// NumShards overrides the protocol's frozen 256-shard count. Changing
	// this from the default breaks shard-routing compatibility with any
	// peer using the frozen constant; it exists for small-scale tests only.
	NumShards int
	// EnforceFootprints rejects ops an executor emits outside its declared
	// footprint, or structural ops from a rule not classified to emit them.
	EnforceFootprints bool
	// HistoryCapacity bounds how many committed ticks snapshot_history keeps.
	HistoryCapacity int
	// LogLevel controls the minimum level the engine's logger emits.
	LogLevel string
}

// DefaultConfig returns the engine's defaults: one worker per CPU, the
// frozen 256-shard protocol constant, footprint enforcement on.
func DefaultConfig() *Config {
	return &Config{
		Workers:           runtime.NumCPU(),
		NumShards:         256,
		EnforceFootprints: true,
		HistoryCapacity:   1024,
		LogLevel:          "info",
	}
}

// LoadFromEnv loads configuration from WARPCORE_-prefixed environment
// variables, falling back to DefaultConfig's values for anything unset or
// unparseable.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Workers = getEnvInt("WARPCORE_WORKERS", cfg.Workers)
	cfg.NumShards = getEnvInt("WARPCORE_NUM_SHARDS", cfg.NumShards)
	cfg.EnforceFootprints = getEnvBool("WARPCORE_ENFORCE_FOOTPRINTS", cfg.EnforceFootprints)
	cfg.HistoryCapacity = getEnvInt("WARPCORE_HISTORY_CAPACITY", cfg.HistoryCapacity)
	cfg.LogLevel = getEnv("WARPCORE_LOG_LEVEL", cfg.LogLevel)
	return cfg
}

// Validate reports the first configuration error found, if any.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.NumShards <= 0 {
		return fmt.Errorf("config: num_shards must be positive, got %d", c.NumShards)
	}
	if c.NumShards > 256 {
		return fmt.Errorf("config: num_shards cannot exceed the protocol's 256-shard ceiling, got %d", c.NumShards)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("config: history_capacity must be positive, got %d", c.HistoryCapacity)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultVal
}
