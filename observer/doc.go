// Package observer provides pipeline.Observer implementations.
//
//   - LogObserver: structured run and stage records on a slog.Logger, with
//     per-stage timing when flags.time_each_module is set.
//   - MetricsObserver: Prometheus counters and histograms for stage outcomes,
//     attempts and durations, written to a node-exporter textfile at the end
//     of the run (metrics.textfile).
//   - TraceObserver: one OpenTelemetry span per run with a child span per
//     stage. NewTracerProvider exports them as JSON to a file
//     (<logging.dir>/trace.json when flags.profile_modules is set).
//
// Combine them with pipeline.MultiObserver. FromConfig builds the set enabled
// by a config.
package observer
