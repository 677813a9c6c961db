//go:build linux

package initproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// MaybeRun becomes the helper and never returns when EnvMarker is set.
// Call it first thing in main, and in TestMain of packages that spawn.
func MaybeRun() {
	if os.Getenv(EnvMarker) != "1" {
		return
	}
	Main()
}

// Main runs the helper: decode, set up, exec. It never returns.
func Main() {
	// The seccomp filter and rlimits must be installed on the thread that execs.
	runtime.LockOSThread()

	status := os.NewFile(StatusFD, "status")
	if status == nil {
		os.Exit(ExitSetupFailed)
	}
	unix.CloseOnExec(StatusFD)

	err := run(status)
	// Only reached on failure.
	reportFailure(status, err)
	os.Exit(ExitSetupFailed)
}

func run(status *os.File) error {
	req, err := decodeRequest()
	if err != nil {
		return stageErr("decode", err)
	}
	if err := validateRequest(req); err != nil {
		return stageErr("validate", err)
	}
	if err := os.Chdir(req.WorkDir); err != nil {
		return stageErr("chdir", err)
	}

	os.Clearenv()
	for _, kv := range req.Env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return stageErr("env", err)
		}
	}

	cmdPath, err := exec.LookPath(req.Cmd[0])
	if err != nil && !errors.Is(err, exec.ErrDot) {
		return stageErr("lookup", err)
	}

	if err := applyRlimits(req.Rlimits); err != nil {
		return stageErr("rlimit", err)
	}
	if req.Seccomp != nil {
		if err := loadSeccomp(*req.Seccomp); err != nil {
			return stageErr("seccomp", err)
		}
	}
	reportReady(status)
	return stageErr("exec", unix.Exec(cmdPath, req.Cmd, os.Environ()))
}

func reportReady(status *os.File) {
	st := Status{Stage: StageReady}
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err == nil {
		st.MaxRSSKb = int64(ru.Maxrss)
	}
	_ = json.NewEncoder(status).Encode(st)
}

func decodeRequest() (Request, error) {
	file := os.NewFile(RequestFD, "request")
	if file == nil {
		return Request{}, fmt.Errorf("request pipe is missing")
	}
	defer file.Close()
	var req Request
	if err := json.NewDecoder(file).Decode(&req); err != nil {
		return Request{}, err
	}
	return req, nil
}

func validateRequest(req Request) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}

func reportFailure(status *os.File, err error) {
	st := Status{Stage: "setup", Error: "unknown failure"}
	if err != nil {
		st.Error = err.Error()
		var se *setupError
		if errors.As(err, &se) {
			st.Stage = se.stage
			st.Error = se.err.Error()
		}
		var errno unix.Errno
		if errors.As(err, &errno) {
			st.Errno = int(errno)
		}
	}
	_ = json.NewEncoder(status).Encode(st)
	_ = status.Close()
}
