//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"coderunner/internal/sandbox/initproc"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// helperSlackKb absorbs what the helper touches between reporting its
// baseline and exec.
const helperSlackKb = 4 << 10

// allocationFailure matches how common runtimes report a failed allocation.
var allocationFailure = regexp.MustCompile(`MemoryError|std::bad_alloc|[Oo]ut of memory|Cannot allocate memory|OutOfMemoryError|memory exhausted|failed to reserve|allocation failed`)

type linuxEngine struct {
	cfg     Config
	helper  string
	seccomp *initproc.SeccompProfile
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	helper := cfg.HelperPath
	if helper == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxFailure, "resolve helper binary failed")
		}
		helper = exe
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, appErr.ValidationError("sandbox.cgroupRoot", "required when cgroups are enabled")
	}
	e := &linuxEngine{cfg: cfg, helper: helper}
	if cfg.EnableSeccomp {
		if cfg.SeccompProfile == "" {
			return nil, appErr.ValidationError("sandbox.seccompProfile", "required when seccomp is enabled")
		}
		profile, err := initproc.LoadSeccompProfile(cfg.SeccompProfile)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxFailure, "load seccomp profile failed")
		}
		e.seccomp = profile
	}
	return e, nil
}

func (e *linuxEngine) Execute(ctx context.Context, runSpec spec.RunSpec) (result.ExecutionOutcome, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.ExecutionOutcome{}, err
	}
	if int64(len(runSpec.Stdin)) > e.cfg.MaxStdinBytes {
		return result.ExecutionOutcome{}, appErr.Newf(appErr.InputTooLarge,
			"stdin is %d bytes, limit is %d", len(runSpec.Stdin), e.cfg.MaxStdinBytes)
	}
	limits := runSpec.Limits

	var cg *runCgroup
	if e.cfg.EnableCgroup {
		var err error
		cg, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.Label)
		if err != nil {
			return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "create cgroup failed")
		}
		defer func() {
			if err := cg.destroy(); err != nil {
				logger.Warn(ctx, "destroy cgroup failed", zap.String("cgroup", cg.path), zap.Error(err))
			}
		}()
		if err := cg.applyLimits(limits); err != nil {
			return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "apply cgroup limits failed")
		}
	}

	files := &fileSet{}
	defer files.closeAll()

	stdin, err := stdinFile(runSpec.Stdin)
	if err != nil {
		return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "prepare stdin failed")
	}
	files.child = append(files.child, stdin)
	stdoutR, stdoutW, err := files.pipe(false)
	if err != nil {
		return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "create stdout pipe failed")
	}
	stderrR, stderrW, err := files.pipe(false)
	if err != nil {
		return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "create stderr pipe failed")
	}
	reqW, reqR, err := files.pipe(true)
	if err != nil {
		return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "create request pipe failed")
	}
	statusR, statusW, err := files.pipe(false)
	if err != nil {
		return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "create status pipe failed")
	}

	cmd := exec.Command(e.helper)
	cmd.Env = []string{initproc.EnvMarker + "=1"}
	cmd.Stdin = stdin
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.ExtraFiles = []*os.File{reqR, statusW}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cg != nil {
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = cg.fd()
	}

	if err := cmd.Start(); err != nil {
		return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SpawnFailure, "start sandbox helper failed").
			WithDetail("helper", e.helper)
	}
	files.closeChild()
	pid := cmd.Process.Pid

	req := initproc.Request{
		WorkDir: runSpec.WorkDir,
		Cmd:     runSpec.Cmd,
		Env:     runSpec.Env,
		Rlimits: e.rlimits(runSpec),
		Seccomp: e.seccomp,
	}
	go func() {
		_ = json.NewEncoder(reqW).Encode(req)
		_ = reqW.Close()
	}()

	overflow := newOverflowSignal()
	budget := newOutputBudget(limits.OutputBytes, overflow.fire)
	stdoutBuf := newBoundedBuffer(budget)
	stderrBuf := newBoundedBuffer(budget)
	captureDone := startCapture(stdoutR, stdoutBuf, stderrR, stderrBuf)

	baselineKb, err := e.awaitExec(ctx, statusR)
	if err != nil {
		e.terminate(pid, cg)
		_ = cmd.Wait()
		files.closeAll()
		<-captureDone
		logger.Warn(ctx, "sandbox setup failed", zap.String("label", runSpec.Label), zap.Error(err))
		return result.ExecutionOutcome{}, err
	}
	start := time.Now()

	var timedOut, cancelled atomic.Bool
	done := make(chan struct{})
	monitorDone := closedChan()
	var monitor *treeMonitor
	if cg == nil {
		monitor, err = newTreeMonitor(pid, limits, e.cfg.MonitorInterval, func() { e.terminate(pid, cg) })
		if err != nil {
			e.terminate(pid, cg)
			_ = cmd.Wait()
			files.closeAll()
			<-captureDone
			return result.ExecutionOutcome{}, appErr.Wrapf(err, appErr.SandboxFailure, "open proc filesystem failed")
		}
		monitorDone = monitor.start(done)
	}
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		var wallTimer <-chan time.Time
		if wallLimit := durationFromMs(limits.WallTimeMs); wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		var overflowCh <-chan struct{}
		if e.cfg.KillOnOutputLimit {
			overflowCh = overflow.done()
		}
		select {
		case <-done:
		case <-wallTimer:
			timedOut.Store(true)
			e.terminate(pid, cg)
		case <-ctx.Done():
			cancelled.Store(true)
			e.terminate(pid, cg)
		case <-overflowCh:
			e.terminate(pid, cg)
		}
	}()

	// Observe the exit without reaping so the process group id stays
	// reserved while descendants are swept.
	waitExited(pid)
	wallTime := time.Since(start)
	close(done)
	<-watchdogDone
	<-monitorDone
	e.terminate(pid, cg)
	waitErr := cmd.Wait()

	select {
	case <-captureDone:
	case <-time.After(e.cfg.DrainTimeout):
		// Something outside the group still holds the pipes open.
		_ = stdoutR.Close()
		_ = stderrR.Close()
		<-captureDone
	}

	state := cmd.ProcessState
	if state == nil {
		return result.ExecutionOutcome{}, appErr.Wrapf(waitErr, appErr.SandboxFailure, "wait for sandboxed process failed")
	}

	ru := rusageOf(state)
	outcome := result.ExecutionOutcome{
		ExitCode:        state.ExitCode(),
		Stdout:          stdoutBuf.buf.String(),
		Stderr:          stderrBuf.buf.String(),
		StdoutTruncated: stdoutBuf.truncated,
		StderrTruncated: stderrBuf.truncated,
		WallTimeMs:      wallTime.Milliseconds(),
		CPUTimeMs:       ru.cpuMs,
		TimedOut:        timedOut.Load(),
		OutputExceeded:  overflow.fired(),
	}
	// ru_maxrss includes the helper's own footprint; only a reading clearly
	// above that baseline is attributable to the target.
	if ru.peakBytes > (baselineKb+helperSlackKb)*1024 {
		outcome.PeakMemoryBytes = ru.peakBytes
	}
	var sig syscall.Signal
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig = ws.Signal()
		outcome.Signal = unix.SignalName(sig)
	}
	oomKilled, processesExceeded := false, false
	if monitor != nil {
		outcome.PeakMemoryBytes = max(outcome.PeakMemoryBytes, monitor.peakBytes())
		oomKilled = monitor.memoryExceeded.Load()
		processesExceeded = monitor.processesExceeded.Load()
	}
	if cg != nil {
		if cpu := cg.cpuUsageMs(); cpu > outcome.CPUTimeMs {
			outcome.CPUTimeMs = cpu
		}
		if peak := cg.memoryPeak(); peak > 0 {
			outcome.PeakMemoryBytes = peak
		}
		oomKilled = cg.oomKilled()
		processesExceeded = cg.pidsLimited()
	}
	outcome.CPUExceeded = sig == syscall.SIGXCPU || (limits.CPUTimeMs > 0 && outcome.CPUTimeMs > limits.CPUTimeMs)
	outcome.MemoryExceeded = oomKilled || (limits.MemoryBytes > 0 && outcome.PeakMemoryBytes > limits.MemoryBytes) ||
		allocationRefused(runSpec, outcome)
	outcome.ProcessesExceeded = processesExceeded

	logger.Debug(ctx, "sandbox execution finished",
		zap.String("label", runSpec.Label),
		zap.Int("exit_code", outcome.ExitCode),
		zap.String("signal", outcome.Signal),
		zap.Int64("wall_ms", outcome.WallTimeMs),
		zap.Int64("cpu_ms", outcome.CPUTimeMs),
		zap.Int64("peak_bytes", outcome.PeakMemoryBytes),
		zap.Bool("timed_out", outcome.TimedOut),
		zap.Bool("output_exceeded", outcome.OutputExceeded),
		zap.Bool("memory_exceeded", outcome.MemoryExceeded),
		zap.Bool("processes_exceeded", outcome.ProcessesExceeded),
	)

	if cancelled.Load() {
		return outcome, appErr.Wrapf(ctx.Err(), appErr.SandboxFailure, "execution cancelled")
	}
	return outcome, nil
}

// allocationRefused reports an abnormal exit caused by RLIMIT_AS refusing
// an allocation. The process dies with a small RSS in that case, so the
// measured peak never shows the breach.
func allocationRefused(runSpec spec.RunSpec, outcome result.ExecutionOutcome) bool {
	if !runSpec.LimitAddressSpace || runSpec.Limits.MemoryBytes <= 0 || outcome.TimedOut {
		return false
	}
	if outcome.ExitCode == 0 && outcome.Signal == "" {
		return false
	}
	return allocationFailure.MatchString(outcome.Stderr)
}

// awaitExec blocks until the helper has exec'd the target or reported a
// setup failure on the status pipe. It returns the helper's resident
// high-water mark in KiB.
func (e *linuxEngine) awaitExec(ctx context.Context, statusR *os.File) (int64, error) {
	statusCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(statusR)
		statusCh <- data
	}()
	timer := time.NewTimer(e.cfg.SetupTimeout)
	defer timer.Stop()

	select {
	case data := <-statusCh:
		return decodeStatus(data)
	case <-timer.C:
		return 0, appErr.New(appErr.SpawnFailure).WithMessage("sandbox helper setup timed out")
	case <-ctx.Done():
		return 0, appErr.Wrapf(ctx.Err(), appErr.SandboxFailure, "execution cancelled during setup")
	}
}

// decodeStatus reads the status lines. An error line wins over the ready
// line that precedes a failed exec.
func decodeStatus(data []byte) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var baselineKb int64
	ready := false
	for {
		var st initproc.Status
		if err := dec.Decode(&st); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, appErr.Newf(appErr.SpawnFailure, "sandbox helper failed: %s", bytes.TrimSpace(data))
		}
		if st.Error != "" {
			cause := &helperError{msg: st.Error, errno: syscall.Errno(st.Errno)}
			return 0, appErr.Wrapf(cause, appErr.SpawnFailure, "sandbox setup failed at %s", st.Stage).
				WithDetail("stage", st.Stage)
		}
		if st.Stage == initproc.StageReady {
			ready = true
			baselineKb = st.MaxRSSKb
		}
	}
	if !ready {
		return 0, appErr.New(appErr.SpawnFailure).WithMessage("sandbox helper exited without reporting")
	}
	return baselineKb, nil
}

// helperError carries a setup failure reported by the helper process.
type helperError struct {
	msg   string
	errno syscall.Errno
}

func (e *helperError) Error() string {
	return e.msg
}

func (e *helperError) Unwrap() error {
	if e.errno == 0 {
		return nil
	}
	return e.errno
}

func (e *linuxEngine) rlimits(runSpec spec.RunSpec) initproc.Rlimits {
	limits := runSpec.Limits
	r := initproc.Rlimits{
		CPUSeconds: uint64((limits.CPUTimeMs + 999) / 1000),
	}
	if runSpec.FileSizeBytes > 0 {
		r.FileSizeBytes = uint64(runSpec.FileSizeBytes)
	}
	if limits.StackBytes > 0 {
		r.StackBytes = uint64(limits.StackBytes)
	}
	if e.cfg.NprocRlimit && limits.Processes > 0 {
		r.Processes = uint64(limits.Processes)
	}
	if runSpec.LimitAddressSpace && limits.MemoryBytes > 0 {
		// Headroom for runtimes that reserve more than they touch; the
		// memory verdict still comes from the measured peak.
		r.AddressSpaceBytes = uint64(limits.MemoryBytes) * 2
	}
	return r
}

func (e *linuxEngine) terminate(pid int, cg *runCgroup) {
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	if cg != nil {
		_ = cg.kill()
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func waitExited(pid int) {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return
		}
	}
}

func startCapture(stdoutR io.Reader, stdout io.Writer, stderrR io.Reader, stderr io.Writer) <-chan struct{} {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(stdout, stdoutR)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(stderr, stderrR)
	}()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return appErr.ValidationError("cmd", "required")
	}
	if err := runSpec.Limits.Resolved(); err != nil {
		return appErr.Wrapf(err, appErr.LimitUnresolved, "limits are not resolved")
	}
	return nil
}

// fileSet tracks both ends of the pipes handed to the helper. Child ends
// are closed in the parent right after start.
type fileSet struct {
	parent []*os.File
	child  []*os.File
}

func (s *fileSet) pipe(childReads bool) (*os.File, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	parent, child := r, w
	if childReads {
		parent, child = w, r
	}
	s.parent = append(s.parent, parent)
	s.child = append(s.child, child)
	return parent, child, nil
}

func (s *fileSet) closeChild() {
	for _, f := range s.child {
		_ = f.Close()
	}
	s.child = nil
}

func (s *fileSet) closeAll() {
	s.closeChild()
	for _, f := range s.parent {
		_ = f.Close()
	}
	s.parent = nil
}
