//go:build linux

package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"coderunner/internal/sandbox/spec"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// runCgroup is a cgroup v2 leaf owned by one execution.
type runCgroup struct {
	path string
	dir  *os.File
}

func createRunCgroup(root, label string) (*runCgroup, error) {
	if root == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	name := fmt.Sprintf("run-%s-%s", sanitizeLabel(label), uuid.NewString()[:8])
	path := filepath.Join(root, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create cgroup: %w", err)
	}
	dir, err := os.Open(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("open cgroup: %w", err)
	}
	return &runCgroup{path: path, dir: dir}, nil
}

func (c *runCgroup) applyLimits(limits spec.ExecutionLimits) error {
	pidsValue := "max"
	if limits.Processes > 0 {
		pidsValue = strconv.FormatInt(limits.Processes, 10)
	}
	if err := c.write("pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryBytes > 0 {
		if err := c.write("memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return err
		}
		// Swap accounting may be disabled on the host.
		if err := c.write("memory.swap.max", "0"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// fd is handed to the kernel so the child starts inside the cgroup.
func (c *runCgroup) fd() int {
	return int(c.dir.Fd())
}

func (c *runCgroup) kill() error {
	return c.write("cgroup.kill", "1")
}

func (c *runCgroup) oomKilled() bool {
	val, ok := c.readKey("memory.events", "oom_kill")
	return ok && val > 0
}

// pidsLimited reports whether a fork or clone was refused by pids.max.
func (c *runCgroup) pidsLimited() bool {
	val, ok := c.readKey("pids.events", "max")
	return ok && val > 0
}

func (c *runCgroup) memoryPeak() int64 {
	val, err := c.readInt("memory.peak")
	if err != nil {
		return 0
	}
	return val
}

func (c *runCgroup) cpuUsageMs() int64 {
	val, ok := c.readKey("cpu.stat", "usage_usec")
	if !ok {
		return 0
	}
	return val / 1000
}

// destroy removes the cgroup. rmdir fails with EBUSY while any member is
// still exiting, so it is retried briefly.
func (c *runCgroup) destroy() error {
	_ = c.dir.Close()
	var err error
	for i := 0; i < 20; i++ {
		err = unix.Rmdir(c.path)
		if err == nil || errors.Is(err, unix.ENOENT) {
			return nil
		}
		if !errors.Is(err, unix.EBUSY) {
			break
		}
		_ = c.kill()
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("remove cgroup %s: %w", c.path, err)
}

func (c *runCgroup) write(name, value string) error {
	return os.WriteFile(filepath.Join(c.path, name), []byte(value), 0o644)
}

func (c *runCgroup) readInt(name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func (c *runCgroup) readKey(name, key string) (int64, bool) {
	data, err := os.ReadFile(filepath.Join(c.path, name))
	if err != nil {
		return 0, false
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != key {
			continue
		}
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return val, true
	}
	return 0, false
}

func sanitizeLabel(label string) string {
	if label == "" {
		return "exec"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, label)
}
