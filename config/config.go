// Package config loads the orchestrator's environment-variable
// configuration. The teacher ships no configuration-loading code of
// its own (WorkerConfig/CleanConfig are constructed directly by
// callers), so this follows the same minimal, explicit style: plain
// os.Getenv reads with typed defaults, no external config library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-driven setting the orchestrator
// needs to start.
type Config struct {
	DatabaseURL       string
	RedisURL          string
	MaxConcurrentJobs int
	GPUCount          int
	ModelCacheDir     string
	OutputDir         string
	GeneratorBin      string
	Host              string
	Port              int
	Retention         time.Duration
	ReconcileInterval time.Duration
	LeaseDuration     time.Duration
	JobMaxDuration    time.Duration
	MaxRetries        uint32
	ReplicaID         string
}

// Load reads Config from the process environment, applying the
// defaults from §6.4.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", "sqlite://orchestrator.db"),
		RedisURL:      getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		ModelCacheDir: getEnv("MODEL_CACHE_DIR", "/app/model_cache"),
		OutputDir:     getEnv("OUTPUT_DIR", "/app/outputs"),
		GeneratorBin:  getEnv("GENERATOR_BIN", "/app/generator"),
		Host:          getEnv("HOST", "0.0.0.0"),
		ReplicaID:     getEnv("REPLICA_ID", defaultReplicaID()),
	}

	var err error
	if cfg.MaxConcurrentJobs, err = getEnvInt("MAX_CONCURRENT_JOBS", 2); err != nil {
		return nil, err
	}
	if cfg.GPUCount, err = getEnvInt("GPU_COUNT", 1); err != nil {
		return nil, err
	}
	if cfg.Port, err = getEnvInt("PORT", 8000); err != nil {
		return nil, err
	}
	if cfg.Retention, err = getEnvDuration("RETENTION", 168*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LeaseDuration, err = getEnvDuration("LEASE_DURATION", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.JobMaxDuration, err = getEnvDuration("JOB_MAX_DURATION", 30*time.Minute); err != nil {
		return nil, err
	}
	maxRetries, err := getEnvInt("MAX_RETRIES", 2)
	if err != nil {
		return nil, err
	}
	cfg.MaxRetries = uint32(maxRetries)

	return cfg, nil
}

// Addr returns the host:port the API server should bind to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func defaultReplicaID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "replica"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
