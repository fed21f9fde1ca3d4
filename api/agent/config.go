package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// PolicyMode is the rule governing worker reuse vs. creation.
type PolicyMode string

const (
	// PolicyPerWorker reuses long-lived workers across requests.
	PolicyPerWorker PolicyMode = "per_worker"
	// PolicyPerRequest creates a fresh worker for every request.
	PolicyPerRequest PolicyMode = "per_request"
	// PolicyOneshot allows a single worker for the process's entire lifetime.
	PolicyOneshot PolicyMode = "oneshot"
)

// ParsePolicyMode validates a policy mode string.
func ParsePolicyMode(s string) (PolicyMode, error) {
	switch PolicyMode(s) {
	case PolicyPerWorker, PolicyPerRequest, PolicyOneshot:
		return PolicyMode(s), nil
	}
	return "", fmt.Errorf("unknown pool policy %q", s)
}

// PoolPolicy is immutable for the process lifetime.
type PoolPolicy struct {
	Mode PolicyMode `yaml:"mode" json:"mode"`
	// MaxParallelism bounds simultaneous workers, always >= 1.
	MaxParallelism int `yaml:"max_parallelism" json:"max_parallelism"`
	// RequestWaitTimeout bounds how long a request waits to acquire a
	// worker, zero means wait indefinitely.
	RequestWaitTimeout time.Duration `yaml:"request_wait_timeout" json:"request_wait_timeout"`
}

// NewPoolPolicy normalizes a pool policy. Under oneshot the parallelism is
// forced to exactly 1, with a warning if the configured value disagreed.
func NewPoolPolicy(mode PolicyMode, maxParallelism int, wait time.Duration) PoolPolicy {
	if maxParallelism < 1 {
		maxParallelism = DefaultMaxParallelism
	}
	if mode == PolicyOneshot && maxParallelism != 1 {
		logrus.WithFields(logrus.Fields{"max_parallelism": maxParallelism}).
			Warn("oneshot policy forces maximum parallelism to 1")
		maxParallelism = 1
	}
	return PoolPolicy{
		Mode:               mode,
		MaxParallelism:     maxParallelism,
		RequestWaitTimeout: wait,
	}
}

// Config specifies various settings for an agent.
type Config struct {
	Policy PoolPolicy `yaml:"policy" json:"policy"`
	// GracefulExitDeadline bounds how long Close waits for live workers,
	// zero kills immediately with no grace.
	GracefulExitDeadline time.Duration `yaml:"graceful_exit_deadline" json:"graceful_exit_deadline"`
	// InboundBuffer is the capacity of each worker's inbound request channel.
	InboundBuffer int `yaml:"inbound_buffer" json:"inbound_buffer"`
	// Service describes the script service every worker runs.
	Service models.ServiceSpec `yaml:"service" json:"service"`
	// WatchService recycles reusable workers when the service files change.
	WatchService bool `yaml:"watch_service" json:"watch_service"`
	// WallClockLimit bounds a worker's total lifetime, zero disables.
	WallClockLimit time.Duration `yaml:"wall_clock_limit" json:"wall_clock_limit"`
	// AdmissionRate limits accepted requests per second, zero disables.
	AdmissionRate float64 `yaml:"admission_rate" json:"admission_rate"`
	// AdmissionBurst is the burst size for AdmissionRate.
	AdmissionBurst int `yaml:"admission_burst" json:"admission_burst"`
	// OutcomeHistoryTTL is how long retired worker outcomes stay visible.
	OutcomeHistoryTTL time.Duration `yaml:"outcome_history_ttl" json:"outcome_history_ttl"`
}

const (
	// EnvPolicy is the pool policy mode, one of per_worker, per_request, oneshot
	EnvPolicy = "ISO_POLICY"
	// EnvMaxParallelism is the maximum count of simultaneous workers
	EnvMaxParallelism = "ISO_MAX_PARALLELISM"
	// EnvRequestWaitTimeout is the maximum time a request waits for a worker
	EnvRequestWaitTimeout = "ISO_REQUEST_WAIT_TIMEOUT"
	// EnvGracefulExitDeadline is the maximum time to wait for workers on shutdown
	EnvGracefulExitDeadline = "ISO_GRACEFUL_EXIT_DEADLINE"
	// EnvInboundBuffer is the per-worker inbound channel capacity
	EnvInboundBuffer = "ISO_INBOUND_BUFFER"
	// EnvServicePath is the path to the service directory
	EnvServicePath = "ISO_SERVICE_PATH"
	// EnvServiceEntrypoint is the entry script within the service directory
	EnvServiceEntrypoint = "ISO_SERVICE_ENTRYPOINT"
	// EnvWatchService toggles recycling workers on service file changes
	EnvWatchService = "ISO_WATCH_SERVICE"
	// EnvWallClockLimit is the maximum lifetime of a single worker, 0 disables
	EnvWallClockLimit = "ISO_WALL_CLOCK_LIMIT"
	// EnvAdmissionRate is the accepted requests per second, 0 disables
	EnvAdmissionRate = "ISO_ADMISSION_RATE"
	// EnvAdmissionBurst is the admission burst size
	EnvAdmissionBurst = "ISO_ADMISSION_BURST"
	// EnvOutcomeHistoryTTL is how long retired worker outcomes stay visible
	EnvOutcomeHistoryTTL = "ISO_OUTCOME_HISTORY_TTL"
	// EnvConfigFile points at a YAML file overlaying the env configuration
	EnvConfigFile = "ISO_CONFIG_FILE"

	// defaults

	DefaultMaxParallelism    = 10
	DefaultInboundBuffer     = 1024
	DefaultOutcomeHistoryTTL = 10 * time.Minute
)

// NewConfig returns a config set from env vars, plus defaults. When
// EnvConfigFile is set, the YAML file's values overlay the env values.
func NewConfig() (*Config, error) {
	mode, err := ParsePolicyMode(common.GetEnv(EnvPolicy, string(PolicyPerWorker)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Policy: NewPoolPolicy(
			mode,
			common.GetEnvInt(EnvMaxParallelism, DefaultMaxParallelism),
			common.GetEnvDuration(EnvRequestWaitTimeout, 0),
		),
		GracefulExitDeadline: common.GetEnvDuration(EnvGracefulExitDeadline, 0),
		InboundBuffer:        common.GetEnvInt(EnvInboundBuffer, DefaultInboundBuffer),
		Service: models.ServiceSpec{
			Path:       common.GetEnv(EnvServicePath, "examples/main"),
			Entrypoint: common.GetEnv(EnvServiceEntrypoint, ""),
		},
		WatchService:      common.GetEnvBool(EnvWatchService, false),
		WallClockLimit:    common.GetEnvDuration(EnvWallClockLimit, 0),
		AdmissionRate:     float64(common.GetEnvInt(EnvAdmissionRate, 0)),
		AdmissionBurst:    common.GetEnvInt(EnvAdmissionBurst, 1),
		OutcomeHistoryTTL: common.GetEnvDuration(EnvOutcomeHistoryTTL, DefaultOutcomeHistoryTTL),
	}

	if file := common.GetEnv(EnvConfigFile, ""); file != "" {
		if err := cfg.overlayFile(file); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) overlayFile(path string) error {
	dat, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(dat, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	// re-normalize, the file may have changed policy fields
	cfg.Policy = NewPoolPolicy(cfg.Policy.Mode, cfg.Policy.MaxParallelism, cfg.Policy.RequestWaitTimeout)
	return nil
}

// Validate checks constraints not already enforced by construction.
func (cfg *Config) Validate() error {
	if _, err := ParsePolicyMode(string(cfg.Policy.Mode)); err != nil {
		return err
	}
	if cfg.Policy.MaxParallelism < 1 {
		return fmt.Errorf("max parallelism must be >= 1, got %d", cfg.Policy.MaxParallelism)
	}
	if cfg.InboundBuffer < 1 {
		return fmt.Errorf("inbound buffer must be >= 1, got %d", cfg.InboundBuffer)
	}
	if cfg.GracefulExitDeadline < 0 || cfg.Policy.RequestWaitTimeout < 0 || cfg.WallClockLimit < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
