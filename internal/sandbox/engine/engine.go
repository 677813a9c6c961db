// Package engine runs one command inside the process sandbox and reports
// what happened to it.
package engine

import (
	"context"
	"time"

	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Execute(ctx context.Context, runSpec spec.RunSpec) (result.ExecutionOutcome, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	// HelperPath is the pre-exec helper binary. Empty re-executes the
	// current binary, which must call initproc.MaybeRun first.
	HelperPath string `yaml:"helperPath"`

	EnableCgroup bool   `yaml:"enableCgroup"`
	CgroupRoot   string `yaml:"cgroupRoot"`

	EnableSeccomp  bool   `yaml:"enableSeccomp"`
	SeccompProfile string `yaml:"seccompProfile"`

	// NprocRlimit also enforces the process limit with RLIMIT_NPROC. The
	// limit is per user, so only enable it when the runner owns its uid.
	NprocRlimit bool `yaml:"nprocRlimit"`

	// KillOnOutputLimit terminates the tree as soon as output overflows.
	KillOnOutputLimit bool `yaml:"killOnOutputLimit"`

	// MonitorInterval is how often /proc is sampled to enforce the memory
	// and process limits when cgroups are disabled.
	MonitorInterval time.Duration `yaml:"monitorInterval"`

	MaxStdinBytes int64         `yaml:"maxStdinBytes"`
	SetupTimeout  time.Duration `yaml:"setupTimeout"`
	DrainTimeout  time.Duration `yaml:"drainTimeout"`
}

const (
	defaultMaxStdinBytes   int64 = 16 << 20
	defaultSetupTimeout          = 10 * time.Second
	defaultDrainTimeout          = time.Second
	defaultMonitorInterval       = 10 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.MaxStdinBytes <= 0 {
		c.MaxStdinBytes = defaultMaxStdinBytes
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	return c
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
