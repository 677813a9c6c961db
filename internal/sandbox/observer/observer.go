// Package observer defines metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64)
	ObserveRun(ctx context.Context, languageID string, kind string, timeMs int64, memoryBytes int64, outputBytes int64)
	ObserveVerdict(ctx context.Context, languageID string, kind string, duration time.Duration)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, kind string, timeMs int64, memoryBytes int64, outputBytes int64) {
}

func (NoopMetricsRecorder) ObserveVerdict(ctx context.Context, languageID string, kind string, duration time.Duration) {
}
