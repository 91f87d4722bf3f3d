// Package config handles environment-based configuration loading and the
// provider registry file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	AuditDir string

	// Network
	ListenAddress string
	Port          int
	MaxClients    int

	// Provider registry
	ProvidersFile string

	// Health probing
	ProbeInterval        time.Duration
	ProbeTimeout         time.Duration
	StreamProbeTimeout   time.Duration
	ProbeConcurrency     int
	ChannelBatchSize     int
	ChannelBatchPause    time.Duration
	ChannelSweepSchedule string

	// Sessions
	SessionTimeout time.Duration

	// Relay
	UpstreamFetchTimeout  time.Duration
	PlaylistFetchTimeout  time.Duration
	PlaylistCacheTTL      time.Duration
	PlaylistCacheCapacity int
	UserAgent             string

	// Audit
	AuditQueueSize      int
	AuditFlushThreshold int
	AuditFlushInterval  time.Duration

	// Auth
	AdminToken string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.AuditDir = envStr("TIERGATE_AUDIT_DIR", "/var/lib/tiergate")
	cfg.ListenAddress = strings.TrimSpace(envStr("TIERGATE_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("TIERGATE_PORT", 8766, &errs)
	cfg.MaxClients = envInt("TIERGATE_MAX_CLIENTS", 256, &errs)

	cfg.ProvidersFile = envStr("TIERGATE_PROVIDERS_FILE", "/etc/tiergate/providers.yaml")

	cfg.ProbeInterval = envDuration("TIERGATE_PROBE_INTERVAL", 5*time.Minute, &errs)
	cfg.ProbeTimeout = envDuration("TIERGATE_PROBE_TIMEOUT", 30*time.Second, &errs)
	cfg.StreamProbeTimeout = envDuration("TIERGATE_STREAM_PROBE_TIMEOUT", 8*time.Second, &errs)
	cfg.ProbeConcurrency = envInt("TIERGATE_PROBE_CONCURRENCY", 10, &errs)
	cfg.ChannelBatchSize = envInt("TIERGATE_CHANNEL_BATCH_SIZE", 20, &errs)
	cfg.ChannelBatchPause = envDuration("TIERGATE_CHANNEL_BATCH_PAUSE", 500*time.Millisecond, &errs)
	cfg.ChannelSweepSchedule = envStr("TIERGATE_CHANNEL_SWEEP_SCHEDULE", "0 4 * * *")

	cfg.SessionTimeout = envDuration("TIERGATE_SESSION_TIMEOUT", 30*time.Minute, &errs)

	cfg.UpstreamFetchTimeout = envDuration("TIERGATE_UPSTREAM_FETCH_TIMEOUT", 10*time.Second, &errs)
	cfg.PlaylistFetchTimeout = envDuration("TIERGATE_PLAYLIST_FETCH_TIMEOUT", 30*time.Second, &errs)
	cfg.PlaylistCacheTTL = envDuration("TIERGATE_PLAYLIST_CACHE_TTL", 5*time.Minute, &errs)
	cfg.PlaylistCacheCapacity = envInt("TIERGATE_PLAYLIST_CACHE_CAPACITY", 64, &errs)
	cfg.UserAgent = envStr("TIERGATE_USER_AGENT", "TierGate/1.0")

	cfg.AuditQueueSize = envInt("TIERGATE_AUDIT_QUEUE_SIZE", 4096, &errs)
	cfg.AuditFlushThreshold = envInt("TIERGATE_AUDIT_FLUSH_THRESHOLD", 500, &errs)
	cfg.AuditFlushInterval = envDuration("TIERGATE_AUDIT_FLUSH_INTERVAL", 30*time.Second, &errs)

	// Auth: must be defined; empty means auth disabled.
	adminToken, hasAdminToken := os.LookupEnv("TIERGATE_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "TIERGATE_ADMIN_TOKEN must be defined (can be empty to disable auth)")
	} else if IsWeakToken(cfg.AdminToken) {
		errs = append(errs, "TIERGATE_ADMIN_TOKEN is too weak (use a longer random token)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "TIERGATE_LISTEN_ADDRESS must not be empty")
	}
	if cfg.ProvidersFile == "" {
		errs = append(errs, "TIERGATE_PROVIDERS_FILE must not be empty")
	}

	validatePort("TIERGATE_PORT", cfg.Port, &errs)
	validatePositive("TIERGATE_MAX_CLIENTS", cfg.MaxClients, &errs)
	validatePositive("TIERGATE_PROBE_CONCURRENCY", cfg.ProbeConcurrency, &errs)
	validatePositive("TIERGATE_CHANNEL_BATCH_SIZE", cfg.ChannelBatchSize, &errs)
	validatePositive("TIERGATE_PLAYLIST_CACHE_CAPACITY", cfg.PlaylistCacheCapacity, &errs)
	validatePositive("TIERGATE_AUDIT_QUEUE_SIZE", cfg.AuditQueueSize, &errs)
	validatePositive("TIERGATE_AUDIT_FLUSH_THRESHOLD", cfg.AuditFlushThreshold, &errs)

	validatePositiveDuration("TIERGATE_PROBE_INTERVAL", cfg.ProbeInterval, &errs)
	validatePositiveDuration("TIERGATE_PROBE_TIMEOUT", cfg.ProbeTimeout, &errs)
	validatePositiveDuration("TIERGATE_STREAM_PROBE_TIMEOUT", cfg.StreamProbeTimeout, &errs)
	validatePositiveDuration("TIERGATE_SESSION_TIMEOUT", cfg.SessionTimeout, &errs)
	validatePositiveDuration("TIERGATE_UPSTREAM_FETCH_TIMEOUT", cfg.UpstreamFetchTimeout, &errs)
	validatePositiveDuration("TIERGATE_PLAYLIST_FETCH_TIMEOUT", cfg.PlaylistFetchTimeout, &errs)
	validatePositiveDuration("TIERGATE_PLAYLIST_CACHE_TTL", cfg.PlaylistCacheTTL, &errs)
	validatePositiveDuration("TIERGATE_AUDIT_FLUSH_INTERVAL", cfg.AuditFlushInterval, &errs)
	if cfg.ChannelBatchPause < 0 {
		errs = append(errs, "TIERGATE_CHANNEL_BATCH_PAUSE must not be negative")
	}

	if _, err := cron.ParseStandard(cfg.ChannelSweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("TIERGATE_CHANNEL_SWEEP_SCHEDULE: invalid cron expression %q: %v", cfg.ChannelSweepSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveDuration(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %s", name, value))
	}
}
