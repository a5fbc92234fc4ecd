// Package config loads the worker configuration from the environment
// once at startup. Core components never read the environment
// themselves.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process configuration, constructed once in main and
// passed explicitly into the coordinator.
type Config struct {
	// BackendURL is the base URL of the backend of record. Required.
	BackendURL string

	// StorageBucket is the artifact bucket identifier. Required.
	StorageBucket string

	// StorageEndpoint overrides the S3 endpoint for compatible
	// deployments. Optional.
	StorageEndpoint string

	// ShardIndex and ShardCount partition the fetched batch across
	// cooperating task instances. Required; 0 <= ShardIndex < ShardCount.
	ShardIndex int
	ShardCount int

	// Attempt is the scheduler's 0-based attempt counter for this task
	// invocation. Defaults to 0.
	Attempt int

	// FetchLimit caps how many staged sources one run fetches.
	FetchLimit int

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string
}

// Load reads .env (if present) and the environment, then validates.
func Load() (Config, error) {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg := Config{
		BackendURL:      os.Getenv("BACKEND_URL"),
		StorageBucket:   os.Getenv("STORAGE_BUCKET"),
		StorageEndpoint: os.Getenv("STORAGE_ENDPOINT"),
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
	}

	var err error
	if cfg.ShardIndex, err = intEnv("SHARD_INDEX", -1); err != nil {
		return Config{}, err
	}
	if cfg.ShardCount, err = intEnv("SHARD_COUNT", 0); err != nil {
		return Config{}, err
	}
	if cfg.Attempt, err = intEnv("TASK_ATTEMPT", 0); err != nil {
		return Config{}, err
	}
	if cfg.FetchLimit, err = intEnv("FETCH_LIMIT", 50); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first configuration error. Configuration errors
// are fatal before any work is attempted.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("config: BACKEND_URL is required")
	}
	if c.StorageBucket == "" {
		return fmt.Errorf("config: STORAGE_BUCKET is required")
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("config: SHARD_COUNT must be >= 1, got %d", c.ShardCount)
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.ShardCount {
		return fmt.Errorf("config: SHARD_INDEX must be in [0, %d), got %d", c.ShardCount, c.ShardIndex)
	}
	if c.Attempt < 0 {
		return fmt.Errorf("config: TASK_ATTEMPT must be >= 0, got %d", c.Attempt)
	}
	if c.FetchLimit < 1 {
		return fmt.Errorf("config: FETCH_LIMIT must be >= 1, got %d", c.FetchLimit)
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}
