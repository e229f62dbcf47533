package observer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dcshock/pipectl/pipeline"
)

// MetricsObserver records stage metrics on its own registry and, when Path
// is set, writes them in the Prometheus text format at the end of the run.
type MetricsObserver struct {
	Path string

	registry         *prometheus.Registry
	stageOutcomes    *prometheus.CounterVec
	stageAttempts    *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	runStages        *prometheus.GaugeVec
	runLastCompleted prometheus.Gauge
}

// NewMetricsObserver returns an observer writing to path (empty disables the file).
func NewMetricsObserver(path string) *MetricsObserver {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &MetricsObserver{
		Path:     path,
		registry: reg,
		stageOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipectl_stage_outcomes_total",
				Help: "Stages settled, by module and outcome.",
			},
			[]string{"module", "outcome"},
		),
		stageAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipectl_stage_attempts_total",
				Help: "Stage invocations including retries.",
			},
			[]string{"module"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipectl_stage_duration_seconds",
				Help:    "Wall time from stage start to outcome.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"module"},
		),
		runStages: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipectl_run_stages",
				Help: "Stages of the last run, by outcome.",
			},
			[]string{"outcome"},
		),
		runLastCompleted: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipectl_run_last_completion_timestamp_seconds",
				Help: "Unix time the last run finished.",
			},
		),
	}
}

// Gatherer exposes the observer's registry.
func (o *MetricsObserver) Gatherer() prometheus.Gatherer { return o.registry }

// BeforeRun implements pipeline.Observer.
func (o *MetricsObserver) BeforeRun(context.Context, string, []pipeline.ModuleID) error {
	return nil
}

// BeforeStage implements pipeline.Observer.
func (o *MetricsObserver) BeforeStage(context.Context, string, pipeline.ModuleID) error {
	return nil
}

// AfterStage implements pipeline.Observer.
func (o *MetricsObserver) AfterStage(_ context.Context, _ string, result pipeline.StageResult) error {
	module := result.Module.String()
	o.stageOutcomes.WithLabelValues(module, string(result.Outcome)).Inc()
	o.stageAttempts.WithLabelValues(module).Add(float64(result.Attempts))
	o.stageDuration.WithLabelValues(module).Observe(result.Duration.Seconds())
	return nil
}

// AfterRun implements pipeline.Observer. It writes the textfile atomically.
func (o *MetricsObserver) AfterRun(_ context.Context, summary *pipeline.RunSummary) error {
	for _, outcome := range []pipeline.Outcome{pipeline.Success, pipeline.Skipped, pipeline.Failed} {
		o.runStages.WithLabelValues(string(outcome)).Set(float64(summary.Count(outcome)))
	}
	o.runLastCompleted.SetToCurrentTime()
	if o.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(o.Path), 0o755); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	if err := prometheus.WriteToTextfile(o.Path, o.registry); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	return nil
}

var _ pipeline.Observer = (*MetricsObserver)(nil)
