// Package spec defines the execution request handed to the sandbox engine.
package spec

import "fmt"

// ExecutionLimits bounds a single sandboxed process tree.
// A zero field means "unset" when used as an override.
type ExecutionLimits struct {
	CPUTimeMs   int64 `json:"cpuTimeMs,omitempty" yaml:"cpuTimeMs"`
	WallTimeMs  int64 `json:"wallTimeMs,omitempty" yaml:"wallTimeMs"`
	MemoryBytes int64 `json:"memoryBytes,omitempty" yaml:"memoryBytes"`
	OutputBytes int64 `json:"outputBytes,omitempty" yaml:"outputBytes"`
	Processes   int64 `json:"processes,omitempty" yaml:"processes"`
	StackBytes  int64 `json:"stackBytes,omitempty" yaml:"stackBytes"`
}

// Merge returns l with every positive field of override applied.
func (l ExecutionLimits) Merge(override ExecutionLimits) ExecutionLimits {
	if override.CPUTimeMs > 0 {
		l.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		l.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryBytes > 0 {
		l.MemoryBytes = override.MemoryBytes
	}
	if override.OutputBytes > 0 {
		l.OutputBytes = override.OutputBytes
	}
	if override.Processes > 0 {
		l.Processes = override.Processes
	}
	if override.StackBytes > 0 {
		l.StackBytes = override.StackBytes
	}
	return l
}

// Resolved reports an error naming the first core limit that is not positive.
func (l ExecutionLimits) Resolved() error {
	switch {
	case l.CPUTimeMs <= 0:
		return fmt.Errorf("cpuTimeMs is not set")
	case l.WallTimeMs <= 0:
		return fmt.Errorf("wallTimeMs is not set")
	case l.MemoryBytes <= 0:
		return fmt.Errorf("memoryBytes is not set")
	case l.OutputBytes <= 0:
		return fmt.Errorf("outputBytes is not set")
	case l.Processes <= 0:
		return fmt.Errorf("processes is not set")
	}
	return nil
}

// ExceedsCeiling returns the name of the first field in l above its positive
// counterpart in ceiling, or "" when l fits.
func (l ExecutionLimits) ExceedsCeiling(ceiling ExecutionLimits) string {
	checks := []struct {
		name  string
		value int64
		max   int64
	}{
		{"cpuTimeMs", l.CPUTimeMs, ceiling.CPUTimeMs},
		{"wallTimeMs", l.WallTimeMs, ceiling.WallTimeMs},
		{"memoryBytes", l.MemoryBytes, ceiling.MemoryBytes},
		{"outputBytes", l.OutputBytes, ceiling.OutputBytes},
		{"processes", l.Processes, ceiling.Processes},
		{"stackBytes", l.StackBytes, ceiling.StackBytes},
	}
	for _, c := range checks {
		if c.max > 0 && c.value > c.max {
			return c.name
		}
	}
	return ""
}

// RunSpec describes one process execution inside the sandbox.
type RunSpec struct {
	// Label tags the execution in logs and cgroup names, e.g. "compile" or "run-2".
	Label   string
	WorkDir string
	Cmd     []string
	Env     []string
	// Stdin is written in full before the process starts. Nil means /dev/null.
	Stdin  []byte
	Limits ExecutionLimits
	// FileSizeBytes caps any single file the process writes (RLIMIT_FSIZE).
	FileSizeBytes int64
	// LimitAddressSpace applies RLIMIT_AS in addition to the memory limit.
	LimitAddressSpace bool
}
