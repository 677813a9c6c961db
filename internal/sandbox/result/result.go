// Package result defines sandbox execution outcomes and verdict classification.
package result

import "coderunner/internal/sandbox/spec"

// Kind is the final classification of a submission.
type Kind string

const (
	KindAccepted            Kind = "Accepted"
	KindCompileError        Kind = "CompileError"
	KindRuntimeError        Kind = "RuntimeError"
	KindTimeLimitExceeded   Kind = "TimeLimitExceeded"
	KindMemoryLimitExceeded Kind = "MemoryLimitExceeded"
	KindOutputLimitExceeded Kind = "OutputLimitExceeded"
	KindInternalError       Kind = "InternalError"
)

// Limit names the resource an execution ran out of.
type Limit string

const (
	LimitNone   Limit = ""
	LimitTime   Limit = "time"
	LimitMemory Limit = "memory"
	LimitOutput Limit = "output"
	// LimitProcesses has no verdict kind of its own and reports as a runtime error.
	LimitProcesses Limit = "processes"
)

// ExecutionOutcome captures raw data about one finished process tree.
type ExecutionOutcome struct {
	ExitCode        int    `json:"exitCode"`
	Signal          string `json:"signal,omitempty"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdoutTruncated,omitempty"`
	StderrTruncated bool   `json:"stderrTruncated,omitempty"`
	WallTimeMs      int64  `json:"wallTimeMs"`
	CPUTimeMs       int64  `json:"cpuTimeMs"`
	PeakMemoryBytes int64  `json:"peakMemoryBytes"`
	TimedOut        bool   `json:"timedOut,omitempty"`
	CPUExceeded     bool   `json:"cpuExceeded,omitempty"`
	MemoryExceeded  bool   `json:"memoryExceeded,omitempty"`
	OutputExceeded  bool   `json:"outputExceeded,omitempty"`
	// ProcessesExceeded is set when the tree spawned more tasks than allowed.
	ProcessesExceeded bool `json:"processesExceeded,omitempty"`
}

// Exceeded reports the violated limit using time > memory > output >
// processes precedence.
func (o ExecutionOutcome) Exceeded() Limit {
	switch {
	case o.TimedOut || o.CPUExceeded:
		return LimitTime
	case o.MemoryExceeded:
		return LimitMemory
	case o.OutputExceeded:
		return LimitOutput
	case o.ProcessesExceeded:
		return LimitProcesses
	}
	return LimitNone
}

// Failed reports whether the process did not finish cleanly.
func (o ExecutionOutcome) Failed() bool {
	return o.ExitCode != 0 || o.Signal != "" || o.Exceeded() != LimitNone
}

// TestResult is the outcome of one test case.
type TestResult struct {
	TestCaseID     string            `json:"testCaseId"`
	Kind           Kind              `json:"kind"`
	Passed         bool              `json:"passed"`
	ExpectedOutput string            `json:"expectedOutput,omitempty"`
	Outcome        *ExecutionOutcome `json:"outcome,omitempty"`
}

// Timestamps captures submission lifecycle timestamps in unix milliseconds.
type Timestamps struct {
	ReceivedAt int64 `json:"receivedAt"`
	FinishedAt int64 `json:"finishedAt"`
}

// Verdict is the unified response structure for a submission.
type Verdict struct {
	SubmissionID string               `json:"submissionId"`
	Language     string               `json:"language"`
	Kind         Kind                 `json:"kind"`
	Passed       bool                 `json:"passed"`
	Compile      *ExecutionOutcome    `json:"compile,omitempty"`
	Run          *ExecutionOutcome    `json:"run,omitempty"`
	Tests        []TestResult         `json:"tests,omitempty"`
	Limits       spec.ExecutionLimits `json:"limits"`
	ErrorCode    int                  `json:"errorCode,omitempty"`
	Error        string               `json:"error,omitempty"`
	Timestamps   Timestamps           `json:"timestamps"`
}

// Internal reports whether the verdict is attributed to the runner rather than the submission.
func (v Verdict) Internal() bool {
	return v.Kind == KindInternalError
}
