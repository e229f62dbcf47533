package observer

import (
	"context"
	"log/slog"
	"time"

	"github.com/dcshock/pipectl/pipeline"
)

// LogObserver writes run and stage records to Logger.
type LogObserver struct {
	Logger *slog.Logger
	// Timing logs every stage's duration at info; otherwise at debug.
	Timing bool

	start time.Time
}

// NewLogObserver returns a LogObserver for logger.
func NewLogObserver(logger *slog.Logger, timing bool) *LogObserver {
	return &LogObserver{Logger: logger, Timing: timing}
}

// BeforeRun implements pipeline.Observer.
func (o *LogObserver) BeforeRun(ctx context.Context, runID string, modules []pipeline.ModuleID) error {
	o.start = time.Now()
	o.logger().InfoContext(ctx, "Starting pipeline.", "run_id", runID, "modules", modules)
	return nil
}

// AfterRun implements pipeline.Observer.
func (o *LogObserver) AfterRun(ctx context.Context, summary *pipeline.RunSummary) error {
	level := slog.LevelInfo
	if summary.HasFailures() {
		level = slog.LevelWarn
	}
	o.logger().Log(ctx, level, "Pipeline finished.",
		"run_id", summary.RunID,
		"elapsed", time.Since(o.start).Round(time.Millisecond),
		"failed", summary.Count(pipeline.Failed),
	)
	return nil
}

// BeforeStage implements pipeline.Observer.
func (o *LogObserver) BeforeStage(ctx context.Context, runID string, module pipeline.ModuleID) error {
	o.logger().DebugContext(ctx, "Stage starting.", "run_id", runID, "module", module.String())
	return nil
}

// AfterStage implements pipeline.Observer.
func (o *LogObserver) AfterStage(ctx context.Context, runID string, result pipeline.StageResult) error {
	level := slog.LevelDebug
	if o.Timing {
		level = slog.LevelInfo
	}
	o.logger().Log(ctx, level, "Stage timing.",
		"run_id", runID,
		"module", result.Module.String(),
		"outcome", string(result.Outcome),
		"attempts", result.Attempts,
		"seconds", result.Duration.Seconds(),
	)
	return nil
}

func (o *LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

var _ pipeline.Observer = (*LogObserver)(nil)
