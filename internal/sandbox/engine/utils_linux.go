//go:build linux

package engine

import (
	"os"
	"syscall"
)

// usage is the rusage summary of a reaped process tree.
type usage struct {
	cpuMs     int64
	peakBytes int64
}

// rusageOf reads CPU time and ru_maxrss from the reaped state. ru_maxrss is
// in kilobytes and covers the helper too since the target replaces it in place.
func rusageOf(state *os.ProcessState) usage {
	if state == nil {
		return usage{}
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return usage{}
	}
	cpuUs := int64(ru.Utime.Sec+ru.Stime.Sec)*1_000_000 + int64(ru.Utime.Usec+ru.Stime.Usec)
	return usage{
		cpuMs:     cpuUs / 1000,
		peakBytes: int64(ru.Maxrss) * 1024,
	}
}
