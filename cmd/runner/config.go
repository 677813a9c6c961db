package main

import (
	"fmt"
	"os"
	"time"

	"coderunner/internal/report"
	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/runner"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	"coderunner/internal/server"
	"coderunner/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLanguagesFile   = "configs/languages.yaml"
	defaultRetryDelay      = 200 * time.Millisecond
	defaultMaxSourceBytes  = 1 << 20
	defaultFileSizeBytes   = 64 << 20
	defaultBasePath        = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

var (
	defaultRunLimits = spec.ExecutionLimits{
		CPUTimeMs:   2000,
		WallTimeMs:  5000,
		MemoryBytes: 256 << 20,
		OutputBytes: 1 << 20,
		Processes:   64,
	}
	defaultCompileLimits = spec.ExecutionLimits{
		CPUTimeMs:   20000,
		WallTimeMs:  30000,
		MemoryBytes: 2 << 30,
		OutputBytes: 1 << 20,
		Processes:   256,
	}
)

// LimitsConfig holds the limit layers below every language profile.
type LimitsConfig struct {
	Defaults spec.ExecutionLimits `yaml:"defaults"`
	Compile  spec.ExecutionLimits `yaml:"compile"`
	Ceiling  spec.ExecutionLimits `yaml:"ceiling"`
}

// RunnerConfig holds orchestration settings.
type RunnerConfig struct {
	RetryDelay     time.Duration `yaml:"retryDelay"`
	CompareMode    string        `yaml:"compareMode"`
	BaseEnv        []string      `yaml:"baseEnv"`
	MaxSourceBytes int64         `yaml:"maxSourceBytes"`
	FileSizeBytes  int64         `yaml:"fileSizeBytes"`
}

// ReportConfig holds verdict sinks. A sink without brokers or endpoint is off.
type ReportConfig struct {
	Kafka report.KafkaConfig  `yaml:"kafka"`
	MinIO report.ObjectConfig `yaml:"minio"`
}

// MetricsConfig toggles Prometheus collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AppConfig holds the runner config.
type AppConfig struct {
	Logger        logger.Config    `yaml:"logger"`
	Workspace     workspace.Config `yaml:"workspace"`
	Sandbox       engine.Config    `yaml:"sandbox"`
	Limits        LimitsConfig     `yaml:"limits"`
	Runner        RunnerConfig     `yaml:"runner"`
	LanguagesFile string           `yaml:"languagesFile"`
	Server        server.Config    `yaml:"server"`
	Report        ReportConfig     `yaml:"report"`
	Metrics       MetricsConfig    `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path and fills defaults. An empty path yields the
// defaults alone.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	cfg.Limits.Defaults = defaultRunLimits.Merge(cfg.Limits.Defaults)
	cfg.Limits.Compile = defaultCompileLimits.Merge(cfg.Limits.Compile)
	if cfg.LanguagesFile == "" {
		cfg.LanguagesFile = defaultLanguagesFile
	}
	if cfg.Runner.RetryDelay == 0 {
		cfg.Runner.RetryDelay = defaultRetryDelay
	}
	if len(cfg.Runner.BaseEnv) == 0 {
		cfg.Runner.BaseEnv = []string{defaultBasePath}
	}
	if cfg.Runner.MaxSourceBytes == 0 {
		cfg.Runner.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.Runner.FileSizeBytes == 0 {
		cfg.Runner.FileSizeBytes = defaultFileSizeBytes
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
}

func validateConfig(cfg *AppConfig) error {
	if _, err := runner.ParseCompareMode(cfg.Runner.CompareMode); err != nil {
		return fmt.Errorf("runner.compareMode: %w", err)
	}
	if field := cfg.Limits.Defaults.ExceedsCeiling(cfg.Limits.Ceiling); field != "" {
		return fmt.Errorf("limits.defaults.%s exceeds limits.ceiling", field)
	}
	if cfg.Sandbox.EnableCgroup && cfg.Sandbox.CgroupRoot == "" {
		return fmt.Errorf("sandbox.cgroupRoot is required when cgroups are enabled")
	}
	if cfg.Sandbox.EnableSeccomp && cfg.Sandbox.SeccompProfile == "" {
		return fmt.Errorf("sandbox.seccompProfile is required when seccomp is enabled")
	}
	if len(cfg.Report.Kafka.Brokers) > 0 && cfg.Report.Kafka.Topic == "" {
		return fmt.Errorf("report.kafka.topic is required when brokers are set")
	}
	if cfg.Report.MinIO.Endpoint != "" && cfg.Report.MinIO.Bucket == "" {
		return fmt.Errorf("report.minio.bucket is required when an endpoint is set")
	}
	return nil
}

func (cfg *AppConfig) runnerOptions() (runner.Options, error) {
	mode, err := runner.ParseCompareMode(cfg.Runner.CompareMode)
	if err != nil {
		return runner.Options{}, err
	}
	return runner.Options{
		DefaultLimits:  cfg.Limits.Defaults,
		CompileLimits:  cfg.Limits.Compile,
		Ceiling:        cfg.Limits.Ceiling,
		BaseEnv:        cfg.Runner.BaseEnv,
		CompareMode:    mode,
		RetryDelay:     cfg.Runner.RetryDelay,
		MaxSourceBytes: cfg.Runner.MaxSourceBytes,
		FileSizeBytes:  cfg.Runner.FileSizeBytes,
	}, nil
}
