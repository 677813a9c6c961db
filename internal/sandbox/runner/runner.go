// Package runner drives one submission at a time through workspace, compile,
// run and classification, and always produces a verdict.
package runner

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"coderunner/internal/report"
	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/observer"
	"coderunner/internal/sandbox/profile"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submission is one unit of untrusted code plus its execution parameters.
type Submission struct {
	SubmissionID string                `json:"submissionId"`
	Language     string                `json:"language"`
	SourceCode   string                `json:"sourceCode"`
	Stdin        string                `json:"stdin,omitempty"`
	Limits       *spec.ExecutionLimits `json:"limits,omitempty"`
	TestCases    []TestCase            `json:"testCases,omitempty"`
}

// TestCase is one input/expected-output pair run against the compiled program.
type TestCase struct {
	TestCaseID     string `json:"testCaseId"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	// TimeoutMs overrides the wall time limit for this case only.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`
}

// State is the runner's position in the submission lifecycle.
type State string

const (
	StateIdle              State = "Idle"
	StateWorkspacePrepared State = "WorkspacePrepared"
	StateCompiled          State = "Compiled"
	StateExecuted          State = "Executed"
	StateClassified        State = "Classified"
	StateReleased          State = "Released"
)

// Options tunes limit resolution and execution.
type Options struct {
	// DefaultLimits sit below every profile's own defaults.
	DefaultLimits spec.ExecutionLimits
	// CompileLimits sit below every profile's compile limits.
	CompileLimits spec.ExecutionLimits
	// Ceiling bounds submission overrides. Zero fields are unbounded.
	Ceiling spec.ExecutionLimits

	BaseEnv        []string
	CompareMode    CompareMode
	RetryDelay     time.Duration
	MaxSourceBytes int64
	// FileSizeBytes caps any single file the program writes.
	FileSizeBytes int64
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Registry   *profile.Registry
	Workspaces *workspace.Manager
	Engine     engine.Engine
	Metrics    observer.MetricsRecorder
	Publisher  report.Publisher
}

// Runner processes submissions strictly one at a time.
type Runner struct {
	registry   *profile.Registry
	workspaces *workspace.Manager
	engine     engine.Engine
	metrics    observer.MetricsRecorder
	publisher  report.Publisher
	opts       Options
	now        func() time.Time

	mu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

const defaultRetryDelay = 200 * time.Millisecond

// New creates a runner.
func New(deps Deps, opts Options) (*Runner, error) {
	if deps.Registry == nil {
		return nil, appErr.ValidationError("registry", "required")
	}
	if deps.Workspaces == nil {
		return nil, appErr.ValidationError("workspaces", "required")
	}
	if deps.Engine == nil {
		return nil, appErr.ValidationError("engine", "required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observer.NoopMetricsRecorder{}
	}
	if deps.Publisher == nil {
		deps.Publisher = report.NoopPublisher{}
	}
	if opts.CompareMode == "" {
		opts.CompareMode = CompareExact
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Runner{
		registry:   deps.Registry,
		workspaces: deps.Workspaces,
		engine:     deps.Engine,
		metrics:    deps.Metrics,
		publisher:  deps.Publisher,
		opts:       opts,
		now:        time.Now,
		state:      StateIdle,
	}, nil
}

// State reports where the runner currently is in the lifecycle.
func (r *Runner) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// Profiles lists the supported languages sorted by id.
func (r *Runner) Profiles() []profile.LanguageProfile {
	return r.registry.Profiles()
}

// Run processes sub, waiting for any in-flight submission first. It never
// returns without a verdict.
func (r *Runner) Run(ctx context.Context, sub Submission) result.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.process(ctx, sub)
}

// TryRun is Run without waiting: it fails with RunnerBusy while another
// submission is in flight.
func (r *Runner) TryRun(ctx context.Context, sub Submission) (result.Verdict, error) {
	if !r.mu.TryLock() {
		return result.Verdict{}, appErr.New(appErr.RunnerBusy)
	}
	defer r.mu.Unlock()
	return r.process(ctx, sub), nil
}

func (r *Runner) process(ctx context.Context, sub Submission) (verdict result.Verdict) {
	received := r.now()
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, sub.SubmissionID)
	verdict = result.Verdict{
		SubmissionID: sub.SubmissionID,
		Language:     sub.Language,
		Timestamps:   result.Timestamps{ReceivedAt: received.UnixMilli()},
	}

	var ws *workspace.Workspace
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "submission processing panicked", zap.Any("panic", rec), zap.Stack("stack"))
			verdict = internalVerdict(verdict, appErr.Newf(appErr.InternalServerError, "runner panicked: %v", rec))
		}
		if ws != nil {
			if err := r.workspaces.Release(ctx, ws); err != nil {
				logger.Error(ctx, "release workspace failed", zap.String("dir", ws.Dir), zap.Error(err))
			}
		}
		r.transition(ctx, StateReleased)

		finished := r.now()
		verdict.Timestamps.FinishedAt = finished.UnixMilli()
		r.metrics.ObserveVerdict(ctx, verdict.Language, string(verdict.Kind), finished.Sub(received))
		if err := r.publisher.Publish(ctx, verdict); err != nil {
			logger.Error(ctx, "publish verdict failed", zap.Error(err))
		}
		logger.Info(ctx, "submission finished",
			zap.String("language", verdict.Language),
			zap.String("kind", string(verdict.Kind)),
			zap.Bool("passed", verdict.Passed),
			zap.Duration("duration", finished.Sub(received)),
		)
		r.transition(ctx, StateIdle)
	}()

	if err := r.pipeline(ctx, sub, &verdict, &ws); err != nil {
		fields := []zap.Field{zap.Int("code", int(appErr.GetCode(err))), zap.Error(err)}
		if e := appErr.GetError(err); len(e.Details) > 0 {
			fields = append(fields, zap.Any("details", e.Details))
		}
		logger.Error(ctx, "submission failed with an internal error", fields...)
		verdict = internalVerdict(verdict, err)
	}
	return verdict
}

// pipeline runs every step up to classification. It stores the acquired
// workspace in *wsOut so the caller can release it on any path.
func (r *Runner) pipeline(ctx context.Context, sub Submission, verdict *result.Verdict, wsOut **workspace.Workspace) error {
	if err := r.validate(sub); err != nil {
		return err
	}
	lang, err := r.registry.Resolve(sub.Language)
	if err != nil {
		return err
	}
	verdict.Language = lang.ID

	limits, err := r.resolveLimits(lang, sub.Limits)
	if err != nil {
		return err
	}
	verdict.Limits = limits
	var compileLimits spec.ExecutionLimits
	if lang.Compiled() {
		if compileLimits, err = r.compileLimits(lang); err != nil {
			return err
		}
	}
	for _, tc := range sub.TestCases {
		if err := r.checkCeiling(spec.ExecutionLimits{WallTimeMs: tc.TimeoutMs}); err != nil {
			return err
		}
	}

	err = withRetry(ctx, "acquire workspace", r.opts.RetryDelay, func() error {
		var acquireErr error
		*wsOut, acquireErr = r.workspaces.Acquire(ctx)
		return acquireErr
	})
	if err != nil {
		return err
	}
	ws := *wsOut

	sourceFile, class := lang.SourceName(sub.SourceCode)
	if err := r.prepare(ws, lang, sourceFile, sub.SourceCode); err != nil {
		return err
	}
	r.transition(ctx, StateWorkspacePrepared)

	vars := newTemplateVars(ws.Dir, sourceFile, lang.BinaryFile, class)
	env := buildEnv(r.opts.BaseEnv, lang.Env, vars)

	if lang.Compiled() {
		outcome, err := r.step(ctx, "compile", lang.CompileCmd, vars, env, ws, nil, compileLimits, lang)
		if err != nil {
			return err
		}
		verdict.Compile = &outcome
		r.metrics.ObserveCompile(ctx, lang.ID, !outcome.Failed(), outcome.WallTimeMs, outcome.PeakMemoryBytes)
		if outcome.Failed() {
			verdict.Kind = result.Classify(&outcome, nil)
			for i, tc := range sub.TestCases {
				verdict.Tests = append(verdict.Tests, result.TestResult{
					TestCaseID:     testCaseID(i, tc),
					Kind:           verdict.Kind,
					ExpectedOutput: tc.ExpectedOutput,
				})
			}
			r.transition(ctx, StateClassified)
			return nil
		}
		r.transition(ctx, StateCompiled)
	}

	if len(sub.TestCases) == 0 {
		outcome, err := r.step(ctx, "run", lang.RunCmd, vars, env, ws, []byte(sub.Stdin), limits, lang)
		if err != nil {
			return err
		}
		verdict.Run = &outcome
		r.transition(ctx, StateExecuted)
		verdict.Kind = result.Classify(verdict.Compile, &outcome)
		verdict.Passed = verdict.Kind == result.KindAccepted
		r.observeRun(ctx, lang.ID, verdict.Kind, outcome)
		r.transition(ctx, StateClassified)
		return nil
	}

	passed := true
	for i, tc := range sub.TestCases {
		id := testCaseID(i, tc)
		caseLimits := limits
		if tc.TimeoutMs > 0 {
			caseLimits.WallTimeMs = scaleLimit(tc.TimeoutMs, lang.TimeMultiplier)
		}
		outcome, err := r.step(ctx, "test-"+id, lang.RunCmd, vars, env, ws, []byte(tc.Input), caseLimits, lang)
		if err != nil {
			return err
		}
		kind := result.Classify(verdict.Compile, &outcome)
		ok := kind == result.KindAccepted && outputsMatch(r.opts.CompareMode, outcome.Stdout, tc.ExpectedOutput)
		passed = passed && ok
		verdict.Tests = append(verdict.Tests, result.TestResult{
			TestCaseID:     id,
			Kind:           kind,
			Passed:         ok,
			ExpectedOutput: tc.ExpectedOutput,
			Outcome:        &outcome,
		})
		r.observeRun(ctx, lang.ID, kind, outcome)
	}
	r.transition(ctx, StateExecuted)
	verdict.Kind = result.Overall(verdict.Tests)
	verdict.Passed = passed
	r.transition(ctx, StateClassified)
	return nil
}

func (r *Runner) validate(sub Submission) error {
	if sub.Language == "" {
		return appErr.New(appErr.InvalidSubmission).WithMessage("language is required")
	}
	if sub.SourceCode == "" {
		return appErr.New(appErr.InvalidSubmission).WithMessage("sourceCode is required")
	}
	if r.opts.MaxSourceBytes > 0 && int64(len(sub.SourceCode)) > r.opts.MaxSourceBytes {
		return appErr.Newf(appErr.InputTooLarge, "source is %d bytes, limit is %d", len(sub.SourceCode), r.opts.MaxSourceBytes)
	}
	return nil
}

// prepare writes the profile's extra files and then the source.
func (r *Runner) prepare(ws *workspace.Workspace, lang profile.LanguageProfile, sourceFile, source string) error {
	names := make([]string, 0, len(lang.ExtraFiles))
	for name := range lang.ExtraFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.workspaces.Write(ws, name, []byte(lang.ExtraFiles[name])); err != nil {
			return err
		}
	}
	return r.workspaces.Write(ws, sourceFile, []byte(source))
}

func (r *Runner) step(ctx context.Context, label, tpl string, vars templateVars, env []string,
	ws *workspace.Workspace, stdin []byte, limits spec.ExecutionLimits, lang profile.LanguageProfile) (result.ExecutionOutcome, error) {
	cmd, err := buildCommand(tpl, vars)
	if err != nil {
		return result.ExecutionOutcome{}, err
	}
	runSpec := spec.RunSpec{
		Label:             label,
		WorkDir:           ws.Dir,
		Cmd:               cmd,
		Env:               env,
		Stdin:             stdin,
		Limits:            limits,
		FileSizeBytes:     r.opts.FileSizeBytes,
		LimitAddressSpace: lang.LimitAddressSpace,
	}
	var outcome result.ExecutionOutcome
	err = withRetry(ctx, label, r.opts.RetryDelay, func() error {
		var execErr error
		outcome, execErr = r.engine.Execute(ctx, runSpec)
		return execErr
	})
	if err != nil {
		return result.ExecutionOutcome{}, err
	}
	logger.Debug(ctx, "step finished",
		zap.String("step", label),
		zap.Strings("cmd", cmd),
		zap.Int("exit_code", outcome.ExitCode),
		zap.String("limit", string(outcome.Exceeded())),
	)
	return outcome, nil
}

func (r *Runner) observeRun(ctx context.Context, languageID string, kind result.Kind, outcome result.ExecutionOutcome) {
	output := int64(len(outcome.Stdout) + len(outcome.Stderr))
	r.metrics.ObserveRun(ctx, languageID, string(kind), outcome.WallTimeMs, outcome.PeakMemoryBytes, output)
}

func (r *Runner) transition(ctx context.Context, to State) {
	r.stateMu.Lock()
	from := r.state
	r.state = to
	r.stateMu.Unlock()
	logger.Debug(ctx, "runner state changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

// FailedVerdict is the InternalError verdict for a submission that never
// reached a runner, for example because the runner could not be built.
func FailedVerdict(sub Submission, err error) result.Verdict {
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	return internalVerdict(result.Verdict{
		SubmissionID: sub.SubmissionID,
		Language:     sub.Language,
		Timestamps:   result.Timestamps{ReceivedAt: now, FinishedAt: now},
	}, err)
}

func internalVerdict(v result.Verdict, err error) result.Verdict {
	v.Kind = result.KindInternalError
	v.Passed = false
	v.ErrorCode = int(appErr.GetCode(err))
	v.Error = err.Error()
	return v
}

func testCaseID(i int, tc TestCase) string {
	if tc.TestCaseID != "" {
		return tc.TestCaseID
	}
	return strconv.Itoa(i + 1)
}
