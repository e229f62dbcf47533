// Package logging builds the pipeline's slog.Logger from the logging section
// of the configuration and carries it through context.Context.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dcshock/pipectl/config"
)

// FileName is the log file created under logging.dir.
const FileName = "pipeline.log"

// ParseLevel maps a configured level name to a slog level. WARNING and
// CRITICAL are accepted for compatibility with existing config files.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New creates a logger writing to a size-rotated file under cfg.Dir and, when
// cfg.LogToStdout is set, to stdout as well. The returned closer releases the
// log file. An empty cfg.Dir disables the file.
func New(cfg config.Logging, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, FileName),
			MaxSize:    megabytes(cfg.MaxBytes),
			MaxBackups: cfg.BackupCount,
		}
		writers = append(writers, file)
		closer = file
	}
	if cfg.LogToStdout && stdout != nil {
		writers = append(writers, stdout)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	return newLogger(level, cfg.Format, out), closer, nil
}

func newLogger(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// lumberjack rotates in whole megabytes; anything below one rounds up.
func megabytes(n int) int {
	const mb = 1 << 20
	if n <= 0 {
		return 0
	}
	return (n + mb - 1) / mb
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type key struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, key{}, logger)
}

// FromContext returns the logger stored by WithLogger, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(key{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
