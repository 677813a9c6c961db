//go:build linux

package initproc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type rlimit struct {
	name     string
	resource int
	limit    unix.Rlimit
}

// list orders the limits so that RLIMIT_AS is applied last, after the
// helper has done all of its own allocation.
func (r Rlimits) list() []rlimit {
	out := []rlimit{{name: "core", resource: unix.RLIMIT_CORE, limit: unix.Rlimit{}}}
	if r.CPUSeconds > 0 {
		// SIGXCPU at the soft limit, SIGKILL one second later.
		out = append(out, rlimit{name: "cpu", resource: unix.RLIMIT_CPU, limit: unix.Rlimit{Cur: r.CPUSeconds, Max: r.CPUSeconds + 1}})
	}
	if r.FileSizeBytes > 0 {
		out = append(out, rlimit{name: "fsize", resource: unix.RLIMIT_FSIZE, limit: unix.Rlimit{Cur: r.FileSizeBytes, Max: r.FileSizeBytes}})
	}
	if r.StackBytes > 0 {
		out = append(out, rlimit{name: "stack", resource: unix.RLIMIT_STACK, limit: unix.Rlimit{Cur: r.StackBytes, Max: r.StackBytes}})
	}
	if r.Processes > 0 {
		out = append(out, rlimit{name: "nproc", resource: unix.RLIMIT_NPROC, limit: unix.Rlimit{Cur: r.Processes, Max: r.Processes}})
	}
	if r.AddressSpaceBytes > 0 {
		out = append(out, rlimit{name: "as", resource: unix.RLIMIT_AS, limit: unix.Rlimit{Cur: r.AddressSpaceBytes, Max: r.AddressSpaceBytes}})
	}
	return out
}

func applyRlimits(r Rlimits) error {
	for _, rl := range r.list() {
		limit := rl.limit
		if err := unix.Setrlimit(rl.resource, &limit); err != nil {
			return fmt.Errorf("set rlimit %s: %w", rl.name, err)
		}
	}
	return nil
}
