package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a child process.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestWithTimeout(t *testing.T) {
	slow := func(ctx context.Context, _ *Invocation) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}
	err := WithTimeout(slow, 10*time.Millisecond)(context.Background(), &Invocation{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fast := func(context.Context, *Invocation) error { return nil }
	assert.NoError(t, WithTimeout(fast, 0)(context.Background(), &Invocation{}))
}

func TestRecover(t *testing.T) {
	err := Recover(func(context.Context, *Invocation) error { panic("kaboom") })(context.Background(), &Invocation{})
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

type stubStrategy struct {
	name  string
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Invoke(context.Context, *Invocation) error {
	s.calls++
	return s.err
}

func TestInvoker_FallsBackInOrder(t *testing.T) {
	first := &stubStrategy{name: "first", err: errors.New("import failed")}
	second := &stubStrategy{name: "second"}
	third := &stubStrategy{name: "third"}

	err := Invoker{Strategies: []Strategy{first, second, third}}.Invoke(context.Background(), &Invocation{Module: "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Zero(t, third.calls)
}

func TestInvoker_AllFail(t *testing.T) {
	errA := errors.New("in-process failed")
	errB := errors.New("exit status 1")
	err := Invoker{Strategies: []Strategy{
		&stubStrategy{name: "unit:x", err: errA},
		&stubStrategy{name: "exec:x", err: errB},
	}}.Invoke(context.Background(), &Invocation{Module: "B"})

	require.ErrorIs(t, err, ErrStageExecution)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "module B")

	err = Invoker{}.Invoke(context.Background(), &Invocation{Module: "C"})
	assert.ErrorIs(t, err, ErrStageExecution)
}

func TestInvoker_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	second := &stubStrategy{name: "second"}

	err := Invoker{Strategies: []Strategy{&stubStrategy{name: "first", err: context.Canceled}, second}}.Invoke(ctx, &Invocation{Module: "A"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, second.calls)
}

func TestInProcess_Panic(t *testing.T) {
	s := InProcess{Label: "bad", Unit: func(context.Context, *Invocation) error { panic("nil map") }}
	assert.Equal(t, "unit:bad", s.Name())
	var pe *PanicError
	assert.True(t, errors.As(s.Invoke(context.Background(), &Invocation{}), &pe))
}

func TestExternalProcess(t *testing.T) {
	requireShell(t)
	tree, _ := testConfig(t, "metadata.project=external")

	var logs syncBuffer
	inv := &Invocation{
		Module:    "C",
		RunID:     "run-1",
		Tree:      tree,
		OutputDir: "/tmp/out/module_c",
		Logger:    slog.New(slog.NewTextHandler(&logs, nil)),
	}
	script := `echo "module=$PIPECTL_MODULE dir=$PIPECTL_OUTPUT_DIR run=$PIPECTL_RUN_ID"
grep -q "project: external" "$PIPECTL_CONFIG_PATH" || exit 4
echo "on stderr" >&2
printf "no newline"`
	s := ExternalProcess{Command: []string{"sh", "-c", script}}
	require.NoError(t, s.Invoke(context.Background(), inv))

	out := logs.String()
	assert.Contains(t, out, "module=C dir=/tmp/out/module_c run=run-1")
	assert.Contains(t, out, `level=WARN msg="on stderr" stream=stderr`)
	assert.Contains(t, out, `msg="no newline"`)
}

func TestExternalProcess_NonZeroExit(t *testing.T) {
	requireShell(t)
	s := ExternalProcess{Command: []string{"sh", "-c", "exit 3"}}
	err := s.Invoke(context.Background(), &Invocation{Module: "D"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
}

func TestExternalProcess_MissingCommand(t *testing.T) {
	s := ExternalProcess{Command: []string{"pipectl-no-such-stage-binary"}}
	assert.Error(t, s.Invoke(context.Background(), &Invocation{Module: "E"}))

	assert.Error(t, ExternalProcess{}.Invoke(context.Background(), &Invocation{Module: "E"}))
}

func TestExternalProcess_ConfigFileRemoved(t *testing.T) {
	requireShell(t)
	tree, _ := testConfig(t)
	var logs syncBuffer
	inv := &Invocation{Module: "F", Tree: tree, Logger: slog.New(slog.NewTextHandler(&logs, nil))}

	s := ExternalProcess{Command: []string{"sh", "-c", `echo "path=$PIPECTL_CONFIG_PATH"`}}
	require.NoError(t, s.Invoke(context.Background(), inv))

	out := logs.String()
	i := strings.Index(out, "path=")
	require.GreaterOrEqual(t, i, 0)
	path := strings.Fields(out[i+len("path="):])[0]
	path = strings.TrimSuffix(path, `"`)
	assert.NoFileExists(t, path)
}
