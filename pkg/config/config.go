// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults for every tunable. Overridden by PUSHPALS_* environment
// variables.
const (
	DefaultHTTPPort       = 8787
	DefaultDataDir        = "./data"
	DefaultWorkerTTL      = 15 * time.Second
	DefaultStaleClaimTTL  = 120 * time.Second
	DefaultSweepInterval  = 5 * time.Second
	DefaultSLOWindow      = 24 * time.Hour
	DefaultSSEKeepalive   = 15 * time.Second
	DefaultSubscriberBuf  = 256
	DefaultJobLogTail     = 200
	DefaultShutdownWindow = 10 * time.Second
)

// Config carries all runtime settings for the coordinator process.
type Config struct {
	// HTTPPort is the listen port for the API server.
	HTTPPort int

	// DataDir holds the embedded store file (pushpals.db).
	DataDir string

	// AuthToken is the bearer token required on protected endpoints.
	// Empty disables auth entirely (local development).
	AuthToken string

	// WorkerOnlineTTL bounds how stale a heartbeat may be before a
	// worker is reported offline.
	WorkerOnlineTTL time.Duration

	// StaleClaimTTL bounds how stale a heartbeat may be before a
	// claimed job is recovered back to pending.
	StaleClaimTTL time.Duration

	// SweepInterval rate-limits the stale-claim sweep.
	SweepInterval time.Duration

	// SLOWindow bounds the terminal-sample window for SLO summaries.
	SLOWindow time.Duration

	// SSEKeepalive is the idle keepalive period on event streams.
	SSEKeepalive time.Duration

	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int

	// JobLogTail caps retained log lines per job and stream.
	JobLogTail int

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
}

// Load builds a Config from the environment, applying defaults.
func Load() *Config {
	return &Config{
		HTTPPort:         getEnvInt("PUSHPALS_PORT", DefaultHTTPPort),
		DataDir:          getEnv("PUSHPALS_DATA_DIR", DefaultDataDir),
		AuthToken:        getEnv("PUSHPALS_AUTH_TOKEN", ""),
		WorkerOnlineTTL:  getEnvDuration("PUSHPALS_WORKER_TTL", DefaultWorkerTTL),
		StaleClaimTTL:    getEnvDuration("PUSHPALS_STALE_CLAIM_TTL", DefaultStaleClaimTTL),
		SweepInterval:    getEnvDuration("PUSHPALS_SWEEP_INTERVAL", DefaultSweepInterval),
		SLOWindow:        getEnvDuration("PUSHPALS_SLO_WINDOW", DefaultSLOWindow),
		SSEKeepalive:     getEnvDuration("PUSHPALS_SSE_KEEPALIVE", DefaultSSEKeepalive),
		SubscriberBuffer: getEnvInt("PUSHPALS_SUBSCRIBER_BUFFER", DefaultSubscriberBuf),
		JobLogTail:       getEnvInt("PUSHPALS_JOB_LOG_TAIL", DefaultJobLogTail),
		ShutdownTimeout:  getEnvDuration("PUSHPALS_SHUTDOWN_TIMEOUT", DefaultShutdownWindow),
	}
}

// StorePath returns the embedded store file path under DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "pushpals.db")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid port: %d", c.HTTPPort)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber buffer must be positive: %d", c.SubscriberBuffer)
	}
	if c.JobLogTail <= 0 {
		return fmt.Errorf("job log tail must be positive: %d", c.JobLogTail)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
