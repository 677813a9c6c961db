package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Limits.Defaults != defaultRunLimits {
		t.Fatalf("default limits = %+v", cfg.Limits.Defaults)
	}
	if cfg.Limits.Compile != defaultCompileLimits {
		t.Fatalf("compile limits = %+v", cfg.Limits.Compile)
	}
	if cfg.LanguagesFile != defaultLanguagesFile || cfg.Server.Addr != defaultHTTPAddr {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Runner.RetryDelay != defaultRetryDelay || len(cfg.Runner.BaseEnv) != 1 {
		t.Fatalf("runner defaults = %+v", cfg.Runner)
	}
	opts, err := cfg.runnerOptions()
	if err != nil {
		t.Fatalf("runner options: %v", err)
	}
	if opts.CompareMode != "exact" || opts.MaxSourceBytes != defaultMaxSourceBytes {
		t.Fatalf("options = %+v", opts)
	}
}

func TestLoadAppConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
limits:
  defaults:
    cpuTimeMs: 1500
runner:
  compareMode: tokens
  retryDelay: 50ms
server:
  addr: 127.0.0.1:9000
  shutdownTimeout: 3s
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.Defaults.CPUTimeMs != 1500 {
		t.Fatalf("cpu = %d", cfg.Limits.Defaults.CPUTimeMs)
	}
	if cfg.Limits.Defaults.WallTimeMs != defaultRunLimits.WallTimeMs {
		t.Fatalf("wall default not kept: %d", cfg.Limits.Defaults.WallTimeMs)
	}
	if cfg.Runner.RetryDelay != 50*time.Millisecond || cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Fatalf("durations not parsed: %+v %+v", cfg.Runner, cfg.Server)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	opts, err := cfg.runnerOptions()
	if err != nil || opts.CompareMode != "tokens" {
		t.Fatalf("options = %+v, %v", opts, err)
	}
}

func TestLoadAppConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"compare mode", "runner:\n  compareMode: fuzzy\n", "compareMode"},
		{"defaults above ceiling", "limits:\n  ceiling:\n    cpuTimeMs: 100\n", "exceeds limits.ceiling"},
		{"cgroup root", "sandbox:\n  enableCgroup: true\n", "cgroupRoot"},
		{"seccomp profile", "sandbox:\n  enableSeccomp: true\n", "seccompProfile"},
		{"kafka topic", "report:\n  kafka:\n    brokers: [localhost:9092]\n", "topic"},
		{"minio bucket", "report:\n  minio:\n    endpoint: localhost:9000\n", "bucket"},
		{"bad yaml", "limits: [\n", "parse config file failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadAppConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestShippedConfigLoads(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "runner.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("config not found: %v", err)
	}
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if !cfg.Metrics.Enabled || cfg.Report.Kafka.Topic == "" {
		t.Fatalf("unexpected shipped config: %+v", cfg)
	}
}

func TestLoadConfigOrDefaultsMissing(t *testing.T) {
	if _, err := loadConfigOrDefaults(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for explicit missing config")
	}
}
