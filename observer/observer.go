package observer

import (
	"context"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel"

	"github.com/dcshock/pipectl/config"
	"github.com/dcshock/pipectl/pipeline"
)

// ServiceName identifies pipectl in trace resources.
const ServiceName = "pipectl"

// FromConfig builds the observers cfg enables. With tracing on, the tracer
// provider is also installed as the global one so instrumented HTTP clients
// write to the same file. The returned shutdown func flushes the tracer and
// is safe to call when tracing is off.
func FromConfig(cfg *config.Config, logger *slog.Logger) (pipeline.Observer, func(context.Context) error, error) {
	observers := []pipeline.Observer{NewLogObserver(logger, cfg.Flags.TimeEachModule)}
	if cfg.Metrics.Textfile != "" {
		observers = append(observers, NewMetricsObserver(cfg.Metrics.Textfile))
	}
	shutdown := func(context.Context) error { return nil }
	if cfg.Flags.ProfileModules {
		path := filepath.Join(cfg.Logging.Dir, TraceFileName)
		tp, stop, err := NewTracerProvider(path, ServiceName)
		if err != nil {
			return nil, nil, err
		}
		otel.SetTracerProvider(tp)
		observers = append(observers, NewTraceObserver(tp))
		shutdown = stop
		logger.Debug("Tracing stages.", "path", path)
	}
	return pipeline.MultiObserver(observers...), shutdown, nil
}
