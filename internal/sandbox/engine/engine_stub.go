//go:build !linux

package engine

import (
	"context"

	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

type unsupportedEngine struct{}

// NewEngine returns an engine that refuses to run anything off Linux.
func NewEngine(cfg Config) (Engine, error) {
	return unsupportedEngine{}, nil
}

func (unsupportedEngine) Execute(ctx context.Context, runSpec spec.RunSpec) (result.ExecutionOutcome, error) {
	return result.ExecutionOutcome{}, appErr.New(appErr.SandboxFailure).WithMessage("sandbox requires linux")
}
