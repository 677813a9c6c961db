package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coderunner/internal/sandbox/profile"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/runner"
	appErr "coderunner/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeExecutor struct {
	busy   bool
	got    runner.Submission
	ctxErr error
}

func (f *fakeExecutor) TryRun(ctx context.Context, sub runner.Submission) (result.Verdict, error) {
	if f.busy {
		return result.Verdict{}, appErr.New(appErr.RunnerBusy)
	}
	f.got = sub
	f.ctxErr = ctx.Err()
	return result.Verdict{SubmissionID: "s-1", Language: sub.Language, Kind: result.KindAccepted, Passed: true}, nil
}

func (f *fakeExecutor) Profiles() []profile.LanguageProfile {
	return []profile.LanguageProfile{{ID: "python", Name: "Python", Version: "3.12", SourceFile: "main.py"}}
}

func (f *fakeExecutor) State() runner.State {
	return runner.StateIdle
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestRunSurvivesClientDisconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exec := &fakeExecutor{}
	router := NewRouter(exec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/run", strings.NewReader(`{"language":"python","sourceCode":"print(1)"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if exec.got.Language != "python" {
		t.Fatalf("submission not executed: %+v", exec.got)
	}
	if exec.ctxErr != nil {
		t.Fatalf("execution context inherited the request cancellation: %v", exec.ctxErr)
	}
}

func TestRunEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exec := &fakeExecutor{}
	router := NewRouter(exec, nil)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/run",
		`{"language":"python","sourceCode":"print(1)","testCases":[{"testCaseId":"a","input":"","expectedOutput":"1"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var v result.Verdict
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if v.Kind != result.KindAccepted || v.SubmissionID != "s-1" {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if exec.got.Language != "python" || len(exec.got.TestCases) != 1 || exec.got.TestCases[0].ExpectedOutput != "1" {
		t.Fatalf("submission not decoded: %+v", exec.got)
	}
	if env.TraceID == "" || rec.Header().Get("X-Trace-Id") != env.TraceID {
		t.Fatalf("trace id not propagated: %q / %q", env.TraceID, rec.Header().Get("X-Trace-Id"))
	}
}

func TestRunEndpointErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		busy   bool
		body   string
		status int
		code   appErr.ErrorCode
	}{
		{name: "malformed json", body: `{"language":`, status: http.StatusBadRequest, code: appErr.InvalidParams},
		{name: "busy", busy: true, body: `{"language":"python","sourceCode":"x"}`, status: http.StatusTooManyRequests, code: appErr.RunnerBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(&fakeExecutor{busy: tt.busy}, nil)
			rec, env := doRequest(t, router, http.MethodPost, "/api/v1/run", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if env.Code != int(tt.code) {
				t.Fatalf("code = %d, want %d", env.Code, tt.code)
			}
		})
	}
}

func TestLanguagesAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(&fakeExecutor{}, nil)

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/languages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("languages status = %d", rec.Code)
	}
	var langs []map[string]any
	if err := json.Unmarshal(env.Data, &langs); err != nil {
		t.Fatalf("decode languages: %v", err)
	}
	if len(langs) != 1 || langs[0]["id"] != "python" {
		t.Fatalf("unexpected languages %v", langs)
	}
	if _, leaked := langs[0]["runCmd"]; leaked {
		t.Fatalf("command templates must not be exposed")
	}

	rec, env = doRequest(t, router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"Idle"`) {
		t.Fatalf("health = %d %s", rec.Code, env.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "coderunner_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := NewRouter(&fakeExecutor{}, reg)
	rec, _ := doRequest(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "coderunner_test_total 1") {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}

	router = NewRouter(&fakeExecutor{}, nil)
	rec, _ = doRequest(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without a gatherer should 404, got %d", rec.Code)
	}
}
