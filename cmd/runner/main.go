// Command runner executes untrusted submissions in the process sandbox,
// either once from a payload or as an HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coderunner/internal/report"
	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/initproc"
	"coderunner/internal/sandbox/observer"
	"coderunner/internal/sandbox/profile"
	"coderunner/internal/sandbox/runner"
	"coderunner/internal/sandbox/workspace"
	"coderunner/internal/server"
	"coderunner/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/runner.yaml"

const (
	exitOK       = 0
	exitInternal = 1
	exitUsage    = 2
)

func main() {
	initproc.MaybeRun()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	fset := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fset.SetOutput(stderr)
	configPath := fset.String("config", defaultConfigPath, "Path to config file")
	payloadPath := fset.String("payload", "", "Submission JSON file (.zst for zstd); defaults to $"+payloadEnv+" or stdin")
	if err := fset.Parse(args); err != nil {
		return exitUsage
	}

	switch cmd {
	case "run", "serve", "languages":
	default:
		fmt.Fprintf(stderr, "unknown command %q (want run, serve or languages)\n", cmd)
		return exitUsage
	}

	appCfg, err := loadConfigOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load app config failed: %v\n", err)
		return exitUsage
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(stderr, "init logger failed: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = logger.Sync()
	}()

	var sub runner.Submission
	if cmd == "run" {
		sub, err = readPayload(*payloadPath, stdin)
		if err != nil {
			fmt.Fprintf(stderr, "read payload failed: %v\n", err)
			return exitUsage
		}
	}

	registry, err := profile.LoadFile(appCfg.LanguagesFile)
	if err != nil {
		if cmd == "run" {
			return reportStartupFailure(stdout, sub, err)
		}
		fmt.Fprintf(stderr, "load languages failed: %v\n", err)
		return exitUsage
	}

	switch cmd {
	case "languages":
		return printLanguages(stdout, registry)
	case "serve":
		return serve(appCfg, registry)
	default:
		return runOnce(appCfg, registry, sub, stdout)
	}
}

// loadConfigOrDefaults tolerates a missing file only at the default path.
func loadConfigOrDefaults(path string) (*AppConfig, error) {
	cfg, err := loadAppConfig(path)
	if err != nil && path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return loadAppConfig("")
	}
	return cfg, err
}

func printLanguages(w io.Writer, registry *profile.Registry) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(registry.Profiles()); err != nil {
		return exitInternal
	}
	return exitOK
}

type app struct {
	runner     *runner.Runner
	gatherer   prometheus.Gatherer
	publishers report.MultiPublisher
	closers    []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logger.Warn(context.Background(), "close publisher failed", zap.Error(err))
		}
	}
}

// buildApp wires every collaborator. extra publishers run before the
// configured sinks.
func buildApp(cfg *AppConfig, registry *profile.Registry, extra ...report.Publisher) (*app, error) {
	a := &app{publishers: append(report.MultiPublisher{}, extra...)}

	workspaces, err := workspace.NewManager(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewEngine(cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	var metrics observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := observer.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, err
		}
		metrics = recorder
		a.gatherer = reg
	}

	if len(cfg.Report.Kafka.Brokers) > 0 {
		kp, err := report.NewKafkaPublisher(cfg.Report.Kafka)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publishers = append(a.publishers, kp)
		a.closers = append(a.closers, kp)
	}
	if cfg.Report.MinIO.Endpoint != "" {
		op, err := report.NewObjectPublisher(cfg.Report.MinIO)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publishers = append(a.publishers, op)
	}

	opts, err := cfg.runnerOptions()
	if err != nil {
		a.Close()
		return nil, err
	}
	r, err := runner.New(runner.Deps{
		Registry:   registry,
		Workspaces: workspaces,
		Engine:     eng,
		Metrics:    metrics,
		Publisher:  a.publishers,
	}, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = r
	return a, nil
}

func runOnce(cfg *AppConfig, registry *profile.Registry, sub runner.Submission, stdout io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg, registry, report.NewWriterPublisher(stdout))
	if err != nil {
		return reportStartupFailure(stdout, sub, err)
	}
	defer a.Close()

	verdict := a.runner.Run(ctx, sub)
	if verdict.Internal() {
		return exitInternal
	}
	return exitOK
}

// reportStartupFailure still answers a payload that arrived while the
// runner itself could not be set up.
func reportStartupFailure(stdout io.Writer, sub runner.Submission, err error) int {
	ctx := context.Background()
	logger.Error(ctx, "init runner failed", zap.Error(err))
	verdict := runner.FailedVerdict(sub, err)
	if pubErr := report.NewWriterPublisher(stdout).Publish(ctx, verdict); pubErr != nil {
		logger.Error(ctx, "write verdict failed", zap.Error(pubErr))
	}
	return exitInternal
}

func serve(cfg *AppConfig, registry *profile.Registry) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg, registry)
	if err != nil {
		logger.Error(ctx, "init runner failed", zap.Error(err))
		return exitUsage
	}
	defer a.Close()

	srv := server.NewHTTPServer(cfg.Server, server.NewRouter(a.runner, a.gatherer))
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "runner http server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "runner http server failed", zap.Error(err))
			return exitInternal
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "runner http server shutdown failed", zap.Error(err))
		return exitInternal
	}
	logger.Info(shutdownCtx, "runner http server stopped")
	return exitOK
}
