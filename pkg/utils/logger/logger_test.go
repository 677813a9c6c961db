package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coderunner/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := SetGlobal(NewFromZap(zap.New(core)))
	defer SetGlobal(prev)

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.SubmissionID, "sub-1")
	Info(ctx, "hello", zap.Int("n", 1))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" {
		t.Fatalf("missing trace id: %v", fields)
	}
	if fields["submission_id"] != "sub-1" {
		t.Fatalf("missing submission id: %v", fields)
	}
	if _, ok := fields["request_id"]; ok {
		t.Fatalf("unexpected request id: %v", fields)
	}
}

func TestNilGlobalLoggerIsSilent(t *testing.T) {
	prev := SetGlobal(nil)
	defer SetGlobal(prev)
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync without logger: %v", err)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.log")
	l, err := NewLogger(Config{Level: "info", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.WithContext(context.Background()).Info("written")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written"`) {
		t.Fatalf("unexpected log content: %s", data)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
