package runner

import (
	"strings"
	"syscall"
	"testing"

	"coderunner/internal/sandbox/profile"
	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

func TestBuildCommand(t *testing.T) {
	vars := newTemplateVars("/tmp/work space", "Main.java", "main", "Main")
	tests := []struct {
		name string
		tpl  string
		want []string
	}{
		{"plain", "python3 {src}", []string{"python3", "/tmp/work space/Main.java"}},
		{"class", "java -cp {dir} {class}", []string{"java", "-cp", "/tmp/work space", "Main"}},
		{"binary", "{bin}", []string{"/tmp/work space/main"}},
		{"quoted", `sh -c "echo {class}"`, []string{"sh", "-c", "echo Main"}},
		{"embedded", "gcc -o{bin} {src}", []string{"gcc", "-o/tmp/work space/main", "/tmp/work space/Main.java"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildCommand(tt.tpl, vars)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "   ", `python3 "{src}`} {
		if _, err := buildCommand(bad, vars); !appErr.Is(err, appErr.InvalidParams) {
			t.Fatalf("template %q: expected InvalidParams, got %v", bad, err)
		}
	}
}

func TestBuildEnv(t *testing.T) {
	vars := newTemplateVars("/w", "a.py", "", "a")
	env := buildEnv([]string{"PATH=/bin"}, []string{"HOME={dir}", "X=1"}, vars)
	if strings.Join(env, ",") != "PATH=/bin,HOME=/w,X=1" {
		t.Fatalf("env = %v", env)
	}
}

func TestOutputsMatch(t *testing.T) {
	tests := []struct {
		mode     CompareMode
		actual   string
		expected string
		want     bool
	}{
		{CompareExact, "3\n", "3", true},
		{CompareExact, "a\r\nb\r\n", "a\nb", true},
		{CompareExact, "  hi  ", "hi", true},
		{CompareExact, "a  b", "a b", false},
		{CompareExact, "", "", true},
		{CompareTokens, "a  b\n", "a b", true},
		{CompareTokens, "1\n2\n3", "1 2 3", true},
		{CompareTokens, "1 2", "1 2 3", false},
		{CompareTokens, "1 2 4", "1 2 3", false},
	}
	for _, tt := range tests {
		if got := outputsMatch(tt.mode, tt.actual, tt.expected); got != tt.want {
			t.Fatalf("outputsMatch(%s, %q, %q) = %v", tt.mode, tt.actual, tt.expected, got)
		}
	}
}

func TestParseCompareMode(t *testing.T) {
	for in, want := range map[string]CompareMode{"": CompareExact, "Exact": CompareExact, "tokens": CompareTokens} {
		got, err := ParseCompareMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseCompareMode(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseCompareMode("fuzzy"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{appErr.Wrapf(syscall.EAGAIN, appErr.SpawnFailure, "fork"), true},
		{appErr.Wrapf(syscall.ETXTBSY, appErr.SpawnFailure, "exec"), true},
		{appErr.Wrapf(syscall.ENOENT, appErr.SpawnFailure, "exec"), false},
		{appErr.New(appErr.UnsupportedLanguage), false},
		{nil, false},
	}
	for i, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Fatalf("case %d: isTransient(%v) = %v", i, tt.err, got)
		}
	}
}

func TestResolveLimits(t *testing.T) {
	r := &Runner{opts: Options{
		DefaultLimits: spec.ExecutionLimits{CPUTimeMs: 1000, WallTimeMs: 3000, MemoryBytes: 100, OutputBytes: 10, Processes: 4},
		Ceiling:       spec.ExecutionLimits{CPUTimeMs: 5000},
	}}
	lang := profile.LanguageProfile{
		ID:               "x",
		DefaultLimits:    spec.ExecutionLimits{MemoryBytes: 200},
		TimeMultiplier:   1.5,
		MemoryMultiplier: 1.25,
	}

	got, err := r.resolveLimits(lang, &spec.ExecutionLimits{CPUTimeMs: 4001})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := spec.ExecutionLimits{CPUTimeMs: 6002, WallTimeMs: 4500, MemoryBytes: 250, OutputBytes: 10, Processes: 4}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if _, err := r.resolveLimits(lang, &spec.ExecutionLimits{CPUTimeMs: 5001}); !appErr.Is(err, appErr.LimitCeilingExceeded) {
		t.Fatalf("expected ceiling error, got %v", err)
	}

	r.opts.DefaultLimits.Processes = 0
	if _, err := r.resolveLimits(lang, nil); !appErr.Is(err, appErr.LimitUnresolved) {
		t.Fatalf("expected unresolved error, got %v", err)
	}
}

func TestCompileLimitsIgnoreMultipliers(t *testing.T) {
	base := spec.ExecutionLimits{CPUTimeMs: 10000, WallTimeMs: 20000, MemoryBytes: 1 << 30, OutputBytes: 1 << 20, Processes: 64}
	r := &Runner{opts: Options{CompileLimits: base}}
	lang := profile.LanguageProfile{ID: "x", TimeMultiplier: 3, CompileLimits: spec.ExecutionLimits{WallTimeMs: 30000}}
	got, err := r.compileLimits(lang)
	if err != nil {
		t.Fatalf("compile limits: %v", err)
	}
	if got.WallTimeMs != 30000 || got.CPUTimeMs != 10000 {
		t.Fatalf("unexpected compile limits %+v", got)
	}
}
