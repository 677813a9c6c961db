package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coderunner"

// PrometheusRecorder exports sandbox metrics to a Prometheus registry.
type PrometheusRecorder struct {
	compiles    *prometheus.CounterVec
	compileTime *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runWall     *prometheus.HistogramVec
	runMemory   *prometheus.HistogramVec
	runOutput   *prometheus.HistogramVec
	verdicts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_total",
			Help:      "Compile steps by language and result.",
		}, []string{"language", "ok"}),
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_wall_seconds",
			Help:      "Wall time of compile steps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_total",
			Help:      "Run steps by language and classification.",
		}, []string{"language", "kind"}),
		runWall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_wall_seconds",
			Help:      "Wall time of run steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"language"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_peak_memory_bytes",
			Help:      "Peak memory of run steps.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
		}, []string{"language"}),
		runOutput: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_output_bytes",
			Help:      "Captured stdout and stderr bytes of run steps.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"language"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Submission verdicts by language and kind.",
		}, []string{"language", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "End to end submission processing time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"language"}),
	}
	collectors := []prometheus.Collector{
		r.compiles, r.compileTime, r.runs, r.runWall, r.runMemory, r.runOutput, r.verdicts, r.duration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64) {
	r.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	r.compileTime.WithLabelValues(languageID).Observe(msToSeconds(timeMs))
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, kind string, timeMs int64, memoryBytes int64, outputBytes int64) {
	r.runs.WithLabelValues(languageID, kind).Inc()
	r.runWall.WithLabelValues(languageID).Observe(msToSeconds(timeMs))
	r.runMemory.WithLabelValues(languageID).Observe(float64(memoryBytes))
	r.runOutput.WithLabelValues(languageID).Observe(float64(outputBytes))
}

func (r *PrometheusRecorder) ObserveVerdict(ctx context.Context, languageID string, kind string, duration time.Duration) {
	r.verdicts.WithLabelValues(languageID, kind).Inc()
	r.duration.WithLabelValues(languageID).Observe(duration.Seconds())
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}
