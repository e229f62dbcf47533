package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Strategy is one way of invoking a stage. An Invoker tries its strategies in
// order until one succeeds.
type Strategy interface {
	// Name describes the strategy for logs and the modules listing.
	Name() string
	Invoke(ctx context.Context, inv *Invocation) error
}

// InProcess calls a unit directly. Panics are returned as *PanicError.
type InProcess struct {
	Label string
	Unit  Unit
}

func (s InProcess) Name() string { return "unit:" + s.Label }

func (s InProcess) Invoke(ctx context.Context, inv *Invocation) error {
	return Recover(s.Unit)(ctx, inv)
}

// Environment variables set for external stage processes.
const (
	EnvModule     = "PIPECTL_MODULE"
	EnvOutputDir  = "PIPECTL_OUTPUT_DIR"
	EnvConfigPath = "PIPECTL_CONFIG_PATH"
	EnvRunID      = "PIPECTL_RUN_ID"
)

// ExternalProcess runs a stage as a child process. The merged config tree is
// written to a temporary file named by PIPECTL_CONFIG_PATH so the child sees
// the same overrides; PIPECTL_MODULE and PIPECTL_OUTPUT_DIR identify the
// stage. Output lines are logged at info (stdout) and warn (stderr). A
// non-zero exit status is a failure.
type ExternalProcess struct {
	Command []string
	// Dir is the working directory; empty inherits the orchestrator's.
	Dir string
	// Env is appended to the orchestrator's environment.
	Env []string
	// WaitDelay bounds how long output pipes are drained after the context
	// ends. Zero means 5s.
	WaitDelay time.Duration
}

func (s ExternalProcess) Name() string { return "exec:" + strings.Join(s.Command, " ") }

func (s ExternalProcess) Invoke(ctx context.Context, inv *Invocation) error {
	if len(s.Command) == 0 {
		return errors.New("external process: empty command")
	}
	cfgPath, cleanup, err := writeMergedConfig(inv)
	if err != nil {
		return err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env,
		EnvModule+"="+inv.Module.String(),
		EnvOutputDir+"="+inv.OutputDir,
		EnvConfigPath+"="+cfgPath,
		EnvRunID+"="+inv.RunID,
	)
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	logger := inv.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	stdout := &lineLogger{logger: logger, level: slog.LevelInfo, stream: "stdout"}
	stderr := &lineLogger{logger: logger, level: slog.LevelWarn, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return fmt.Errorf("%s exited with status %d: %w", s.Command[0], exitErr.ExitCode(), runErr)
		}
		return fmt.Errorf("run %s: %w", s.Command[0], runErr)
	}
	return nil
}

func writeMergedConfig(inv *Invocation) (string, func(), error) {
	if inv.Tree == nil {
		return "", func() {}, nil
	}
	data, err := inv.Tree.Marshal()
	if err != nil {
		return "", nil, fmt.Errorf("encode merged config: %w", err)
	}
	f, err := os.CreateTemp("", "pipectl-"+inv.Module.Lower()+"-*.yaml")
	if err != nil {
		return "", nil, fmt.Errorf("create merged config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("write merged config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("write merged config: %w", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// lineLogger logs each complete line written to it.
type lineLogger struct {
	logger *slog.Logger
	level  slog.Level
	stream string

	mu  sync.Mutex
	buf []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing partial line.
func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	w.logger.Log(context.Background(), w.level, text, "stream", w.stream)
}

// Invoker runs a stage through an ordered list of strategies.
type Invoker struct {
	Strategies []Strategy
}

// Invoke tries each strategy in order and returns nil on the first success.
// When every strategy fails the error wraps ErrStageExecution and each
// strategy's error. A cancelled context stops the chain early.
func (iv Invoker) Invoke(ctx context.Context, inv *Invocation) error {
	if len(iv.Strategies) == 0 {
		return fmt.Errorf("%w: module %s: no invocation strategy", ErrStageExecution, inv.Module)
	}
	logger := inv.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var errs []error
	for i, s := range iv.Strategies {
		err := s.Invoke(ctx, inv)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(iv.Strategies) {
			logger.Warn("Invocation failed, trying next strategy.",
				"strategy", s.Name(), "next", iv.Strategies[i+1].Name(), "error", err)
		}
	}
	return fmt.Errorf("%w: module %s: %w", ErrStageExecution, inv.Module, errors.Join(errs...))
}
