package server

import (
	"context"

	"coderunner/internal/sandbox/profile"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/runner"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Executor is the part of the runner the HTTP surface needs.
type Executor interface {
	TryRun(ctx context.Context, sub runner.Submission) (result.Verdict, error)
	Profiles() []profile.LanguageProfile
	State() runner.State
}

// RunController serves submission and language requests.
type RunController struct {
	exec Executor
}

// NewRunController creates a new controller.
func NewRunController(exec Executor) *RunController {
	return &RunController{exec: exec}
}

// Run executes one submission. A busy runner answers 429 instead of queueing.
func (h *RunController) Run(c *gin.Context) {
	var sub runner.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		response.BadRequest(c, "Invalid submission: "+err.Error())
		return
	}
	// A client that disconnects must not kill a submission mid-run; only
	// the sandbox limits end it.
	verdict, err := h.exec.TryRun(context.WithoutCancel(c.Request.Context()), sub)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, verdict)
}

// Languages lists the supported languages.
func (h *RunController) Languages(c *gin.Context) {
	response.Success(c, h.exec.Profiles())
}

// Health reports liveness and the current runner state.
func (h *RunController) Health(c *gin.Context) {
	response.Success(c, gin.H{
		"status": "ok",
		"state":  h.exec.State(),
	})
}
