package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"coderunner/internal/sandbox/result"

	"github.com/klauspost/compress/zstd"
)

const samplePayload = `{"submissionId":"s-1","language":"python","sourceCode":"print(1)","testCases":[{"testCaseId":"t1","input":"","expectedOutput":"1"}]}`

func TestReadPayloadSources(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "payload.json")
	if err := os.WriteFile(plain, []byte(samplePayload), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	compressed := filepath.Join(dir, "payload.json.zst")
	if err := os.WriteFile(compressed, enc.EncodeAll([]byte(samplePayload), nil), 0o644); err != nil {
		t.Fatalf("write compressed payload: %v", err)
	}
	_ = enc.Close()

	tests := []struct {
		name  string
		path  string
		env   string
		stdin string
	}{
		{"file", plain, "", ""},
		{"zstd file", compressed, "", ""},
		{"env", "", samplePayload, ""},
		{"stdin", "", "", samplePayload + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(payloadEnv, tt.env)
			sub, err := readPayload(tt.path, strings.NewReader(tt.stdin))
			if err != nil {
				t.Fatalf("read payload: %v", err)
			}
			if sub.SubmissionID != "s-1" || sub.Language != "python" || len(sub.TestCases) != 1 {
				t.Fatalf("unexpected submission: %+v", sub)
			}
			if sub.TestCases[0].ExpectedOutput != "1" {
				t.Fatalf("expected output = %q", sub.TestCases[0].ExpectedOutput)
			}
		})
	}
}

func TestReadPayloadFileWinsOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(path, []byte(samplePayload), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	t.Setenv(payloadEnv, `{"submissionId":"from-env"}`)
	sub, err := readPayload(path, strings.NewReader(""))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if sub.SubmissionID != "s-1" {
		t.Fatalf("submission id = %q", sub.SubmissionID)
	}
}

func TestReadPayloadErrors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
	}{
		{"empty", "  \n"},
		{"malformed", "{"},
		{"unknown field", `{"language":"python","bogus":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(payloadEnv, "")
			if _, err := readPayload("", strings.NewReader(tt.stdin)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := readPayload(filepath.Join(t.TempDir(), "missing.json"), strings.NewReader("")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRunCommands(t *testing.T) {
	languages, err := filepath.Abs(filepath.Join("..", "..", "configs", "languages.yaml"))
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if _, err := os.Stat(languages); err != nil {
		t.Skipf("language file not found: %v", err)
	}
	cfgPath := writeConfig(t, "languagesFile: "+languages+"\nlogger:\n  level: error\n")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"languages", "-config", cfgPath}, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("languages exit = %d, stderr = %s", code, stderr.String())
	}
	var listed []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &listed); err != nil {
		t.Fatalf("decode languages: %v", err)
	}
	if len(listed) != 10 {
		t.Fatalf("listed %d languages", len(listed))
	}
	if strings.Contains(stdout.String(), "compileCmd") {
		t.Fatalf("commands leaked: %s", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"bogus"}, strings.NewReader(""), &stdout, &stderr); code != exitUsage {
		t.Fatalf("unknown command exit = %d", code)
	}
	t.Setenv(payloadEnv, "")
	if code := run([]string{"run", "-config", cfgPath}, strings.NewReader("not json"), &stdout, &stderr); code != exitUsage {
		t.Fatalf("bad payload exit = %d", code)
	}
	if code := run([]string{"-nope"}, strings.NewReader(""), &stdout, &stderr); code != exitUsage {
		t.Fatalf("bad flag exit = %d", code)
	}
}

func TestRunReportsStartupFailure(t *testing.T) {
	languages, err := filepath.Abs(filepath.Join("..", "..", "configs", "languages.yaml"))
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if _, err := os.Stat(languages); err != nil {
		t.Skipf("language file not found: %v", err)
	}
	missing := filepath.Join(t.TempDir(), "missing.json")
	tests := []struct {
		name      string
		body      string
		linuxOnly bool
	}{
		{
			name:      "unreadable seccomp profile",
			body:      "languagesFile: " + languages + "\nsandbox:\n  enableSeccomp: true\n  seccompProfile: " + missing + "\n",
			linuxOnly: true,
		},
		{
			name: "missing languages file",
			body: "languagesFile: " + missing + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.linuxOnly && runtime.GOOS != "linux" {
				t.Skip("sandbox setup only fails on linux")
			}
			cfgPath := writeConfig(t, tt.body+"logger:\n  level: fatal\nworkspace:\n  root: "+t.TempDir()+"\nmetrics:\n  enabled: false\n")
			t.Setenv(payloadEnv, "")

			var stdout, stderr bytes.Buffer
			code := run([]string{"run", "-config", cfgPath}, strings.NewReader(samplePayload), &stdout, &stderr)
			if code != exitInternal {
				t.Fatalf("exit = %d, want %d (stderr %s)", code, exitInternal, stderr.String())
			}
			var v result.Verdict
			if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
				t.Fatalf("decode verdict: %v (%q)", err, stdout.String())
			}
			if v.Kind != result.KindInternalError || v.SubmissionID != "s-1" || v.Language != "python" {
				t.Fatalf("unexpected verdict %+v", v)
			}
			if v.Error == "" || v.ErrorCode == 0 {
				t.Fatalf("verdict lost the cause: %+v", v)
			}
		})
	}
}
