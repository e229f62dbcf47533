package observer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/dcshock/pipectl/pipeline"
)

// TraceFileName is the span file written under logging.dir.
const TraceFileName = "trace.json"

// NewTracerProvider returns a provider exporting spans as JSON to path. The
// shutdown func flushes pending spans and closes the file.
func NewTracerProvider(path, serviceName string) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("trace file: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f), stdouttrace.WithPrettyPrint())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	shutdown := func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return tp, shutdown, nil
}

// TraceObserver records a span for the run and a child span per stage.
type TraceObserver struct {
	tracer trace.Tracer

	mu     sync.Mutex
	runCtx context.Context
	run    trace.Span
	stages map[pipeline.ModuleID]trace.Span
}

// NewTraceObserver returns an observer creating spans from tp.
func NewTraceObserver(tp trace.TracerProvider) *TraceObserver {
	return &TraceObserver{
		tracer: tp.Tracer("github.com/dcshock/pipectl/pipeline"),
		stages: make(map[pipeline.ModuleID]trace.Span),
	}
}

// BeforeRun implements pipeline.Observer.
func (o *TraceObserver) BeforeRun(ctx context.Context, runID string, modules []pipeline.ModuleID) error {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.String()
	}
	runCtx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipectl.run_id", runID),
		attribute.StringSlice("pipectl.modules", names),
	))
	o.mu.Lock()
	o.runCtx, o.run = runCtx, span
	o.mu.Unlock()
	return nil
}

// BeforeStage implements pipeline.Observer.
func (o *TraceObserver) BeforeStage(ctx context.Context, runID string, module pipeline.ModuleID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent := ctx
	if o.runCtx != nil {
		parent = o.runCtx
	}
	_, span := o.tracer.Start(parent, "stage "+module.String(), trace.WithAttributes(
		attribute.String("pipectl.run_id", runID),
		attribute.String("pipectl.module", module.String()),
	))
	o.stages[module] = span
	return nil
}

// AfterStage implements pipeline.Observer.
func (o *TraceObserver) AfterStage(_ context.Context, _ string, result pipeline.StageResult) error {
	o.mu.Lock()
	span, ok := o.stages[result.Module]
	delete(o.stages, result.Module)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("trace: no span for module %s", result.Module)
	}
	span.SetAttributes(
		attribute.String("pipectl.outcome", string(result.Outcome)),
		attribute.Int("pipectl.attempts", result.Attempts),
	)
	if result.Reason != "" {
		span.SetAttributes(attribute.String("pipectl.reason", result.Reason))
	}
	if result.Outcome == pipeline.Failed {
		if result.Err != nil {
			span.RecordError(result.Err)
		}
		span.SetStatus(codes.Error, result.Reason)
	}
	span.End()
	return nil
}

// AfterRun implements pipeline.Observer.
func (o *TraceObserver) AfterRun(_ context.Context, summary *pipeline.RunSummary) error {
	o.mu.Lock()
	span := o.run
	o.run, o.runCtx = nil, nil
	o.mu.Unlock()
	if span == nil {
		return nil
	}
	span.SetAttributes(
		attribute.Int("pipectl.stages.success", summary.Count(pipeline.Success)),
		attribute.Int("pipectl.stages.skipped", summary.Count(pipeline.Skipped)),
		attribute.Int("pipectl.stages.failed", summary.Count(pipeline.Failed)),
	)
	if summary.HasFailures() {
		span.SetStatus(codes.Error, "one or more stages failed")
	}
	span.End()
	return nil
}

var _ pipeline.Observer = (*TraceObserver)(nil)
