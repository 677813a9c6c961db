//go:build linux

package engine

import (
	"sync/atomic"
	"time"

	"coderunner/internal/sandbox/spec"

	"github.com/prometheus/procfs"
)

// treeMonitor samples the resident memory and task count of a process
// group from /proc and kills the group once either passes its limit. It
// enforces memory and process limits when no cgroup does.
//
// A member that leaves the group with setsid or setpgid is no longer seen.
type treeMonitor struct {
	fs       procfs.FS
	pgid     int
	limits   spec.ExecutionLimits
	interval time.Duration
	kill     func()

	peak              atomic.Int64
	memoryExceeded    atomic.Bool
	processesExceeded atomic.Bool
}

func newTreeMonitor(pgid int, limits spec.ExecutionLimits, interval time.Duration, kill func()) (*treeMonitor, error) {
	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return nil, err
	}
	return &treeMonitor{
		fs:       fs,
		pgid:     pgid,
		limits:   limits,
		interval: interval,
		kill:     kill,
	}, nil
}

// start samples in the background until stop is closed or a limit is
// breached. The returned channel is closed when sampling has ended.
func (m *treeMonitor) start(stop <-chan struct{}) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			if m.sample() {
				m.kill()
				return
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return finished
}

// sample takes one reading and reports whether a limit was breached.
func (m *treeMonitor) sample() bool {
	procs, err := m.fs.AllProcs()
	if err != nil {
		return false
	}
	var rss, tasks, hwm int64
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil || stat.PGRP != m.pgid || stat.State == "Z" {
			continue
		}
		rss += int64(stat.ResidentMemory())
		tasks += int64(stat.NumThreads)
		if p.PID == m.pgid {
			if status, err := p.NewStatus(); err == nil {
				hwm = int64(status.VmHWM)
			}
		}
	}
	// VmHWM catches a main-process spike that fell between samples.
	resident := max(rss, hwm)
	m.observe(resident)

	breached := false
	if m.limits.MemoryBytes > 0 && resident > m.limits.MemoryBytes {
		m.memoryExceeded.Store(true)
		breached = true
	}
	if m.limits.Processes > 0 && tasks > m.limits.Processes {
		m.processesExceeded.Store(true)
		breached = true
	}
	return breached
}

func (m *treeMonitor) observe(bytes int64) {
	for {
		cur := m.peak.Load()
		if bytes <= cur || m.peak.CompareAndSwap(cur, bytes) {
			return
		}
	}
}

func (m *treeMonitor) peakBytes() int64 {
	return m.peak.Load()
}
