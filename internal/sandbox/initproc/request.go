// Package initproc is the pre-exec helper that runs between fork and the
// submitted program. The engine starts it with the request on fd 3 and a
// close-on-exec status pipe on fd 4. The helper writes one JSON status line
// per report: a ready line right before exec, and an error line if setup or
// exec fails. EOF after a ready line means the target program was exec'd.
package initproc

const (
	// EnvMarker turns a binary that calls MaybeRun into the helper.
	EnvMarker = "CODERUNNER_SANDBOX_INIT"

	RequestFD = 3
	StatusFD  = 4

	// ExitSetupFailed is the helper exit code after a reported setup failure.
	ExitSetupFailed = 127

	// StageReady marks the status line written just before exec.
	StageReady = "ready"
)

// Request is decoded by the helper from the request pipe.
type Request struct {
	WorkDir string          `json:"workDir"`
	Cmd     []string        `json:"cmd"`
	Env     []string        `json:"env"`
	Rlimits Rlimits         `json:"rlimits"`
	Seccomp *SeccompProfile `json:"seccomp,omitempty"`
}

// Rlimits lists the resource limits applied before exec. Zero means unset.
type Rlimits struct {
	CPUSeconds        uint64 `json:"cpuSeconds,omitempty"`
	AddressSpaceBytes uint64 `json:"addressSpaceBytes,omitempty"`
	FileSizeBytes     uint64 `json:"fileSizeBytes,omitempty"`
	StackBytes        uint64 `json:"stackBytes,omitempty"`
	Processes         uint64 `json:"processes,omitempty"`
}

// SeccompProfile is a name-based syscall policy.
type SeccompProfile struct {
	DefaultAction string        `json:"defaultAction"`
	Syscalls      []SeccompRule `json:"syscalls"`
}

// SeccompRule applies one action to a group of syscalls.
type SeccompRule struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

// Status is one line the helper reports on the status pipe.
type Status struct {
	Stage string `json:"stage"`
	Error string `json:"error,omitempty"`
	// Errno is the raw errno behind Error, when there is one.
	Errno int `json:"errno,omitempty"`
	// MaxRSSKb is the helper's own resident high-water mark on the ready
	// line. It carries over into the target's ru_maxrss across exec.
	MaxRSSKb int64 `json:"maxRssKb,omitempty"`
}

type setupError struct {
	stage string
	err   error
}

func (e *setupError) Error() string {
	return e.stage + ": " + e.err.Error()
}

func (e *setupError) Unwrap() error {
	return e.err
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &setupError{stage: stage, err: err}
}
