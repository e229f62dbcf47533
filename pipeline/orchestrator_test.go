package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcshock/pipectl/config"
	"github.com/dcshock/pipectl/logging"
	"github.com/dcshock/pipectl/overwrite"
)

const testDoc = `metadata:
  project: test
logging:
  level: DEBUG
pipeline:
  concurrency: 1
inputs: {}
outputs:
  root: outputs
model: {}
flags: {}
`

// testConfig returns a merged tree and config whose outputs.root is a fresh
// temp dir.
func testConfig(t *testing.T, overrides ...string) (*config.Tree, *config.Config) {
	t.Helper()
	base, err := config.ParseTree([]byte(testDoc))
	require.NoError(t, err)
	ov, err := config.ParseOverrides(append([]string{"outputs.root=" + t.TempDir()}, overrides...))
	require.NoError(t, err)
	tree, err := config.ApplyOverrides(base, ov, nil)
	require.NoError(t, err)
	cfg, err := config.Decode(tree)
	require.NoError(t, err)
	return tree, cfg
}

// fakeUnits records how often each module was invoked.
type fakeUnits struct {
	mu    sync.Mutex
	calls map[ModuleID]int
}

func newFakeUnits() *fakeUnits { return &fakeUnits{calls: make(map[ModuleID]int)} }

func (f *fakeUnits) unit(fn func(ctx context.Context, inv *Invocation) error) Unit {
	return func(ctx context.Context, inv *Invocation) error {
		f.mu.Lock()
		f.calls[inv.Module]++
		f.mu.Unlock()
		if fn == nil {
			return nil
		}
		return fn(ctx, inv)
	}
}

func (f *fakeUnits) count(m ModuleID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[m]
}

func (f *fakeUnits) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func failing(ctx context.Context, inv *Invocation) error {
	return fmt.Errorf("module %s broke", inv.Module)
}

func registryOf(f *fakeUnits, overrides map[ModuleID]func(context.Context, *Invocation) error) *Registry {
	reg := NewRegistry()
	for _, m := range AllModules {
		reg.RegisterUnit(m, f.unit(overrides[m]))
	}
	return reg
}

func quietOrchestrator(reg *Registry) *Orchestrator {
	return NewOrchestrator(reg, slog.New(slog.DiscardHandler))
}

func TestRun_AllSucceed(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()

	summary, err := quietOrchestrator(registryOf(units, nil)).Run(context.Background(), tree, cfg, Options{})
	require.NoError(t, err)

	assert.Equal(t, AllModules, summary.Modules())
	assert.Equal(t, len(AllModules), summary.Count(Success))
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 12, units.total())
}

func TestRun_SerialHaltsOnFailure(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	reg := registryOf(units, map[ModuleID]func(context.Context, *Invocation) error{"B": failing})

	summary, err := quietOrchestrator(reg).Run(context.Background(), tree, cfg, Options{Modules: ids("A", "B", "C", "D")})
	require.NoError(t, err)

	results := summary.Results()
	require.Len(t, results, 2)
	assert.Equal(t, ModuleID("A"), results[0].Module)
	assert.Equal(t, Success, results[0].Outcome)
	assert.Equal(t, ModuleID("B"), results[1].Module)
	assert.Equal(t, Failed, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, ErrStageExecution)
	assert.Zero(t, units.count("C"))
	assert.Zero(t, units.count("D"))
	assert.True(t, summary.HasFailures())
}

func TestRun_SerialContinueOnFailure(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	reg := registryOf(units, map[ModuleID]func(context.Context, *Invocation) error{"B": failing})

	summary, err := quietOrchestrator(reg).Run(context.Background(), tree, cfg, Options{
		Modules:           ids("A", "B", "C", "D"),
		ContinueOnFailure: true,
	})
	require.NoError(t, err)

	assert.Equal(t, ids("A", "B", "C", "D"), summary.Modules())
	assert.Equal(t, map[ModuleID]Outcome{"A": Success, "B": Failed, "C": Success, "D": Success}, summary.Outcomes())
}

func TestRun_SubsetOrderIsKept(t *testing.T) {
	tree, cfg := testConfig(t)
	summary, err := quietOrchestrator(registryOf(newFakeUnits(), nil)).Run(context.Background(), tree, cfg, Options{
		Modules:   ids("C", "A", "B"),
		StopAfter: "A",
	})
	require.NoError(t, err)
	assert.Equal(t, ids("C", "A"), summary.Modules())
}

func TestRun_ConcurrentCompleteness(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	reg := registryOf(units, map[ModuleID]func(context.Context, *Invocation) error{
		"C": failing,
		"E": func(context.Context, *Invocation) error { panic("boom") },
		"F": func(ctx context.Context, _ *Invocation) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	})

	summary, err := quietOrchestrator(reg).Run(context.Background(), tree, cfg, Options{
		Modules:     ids("A", "B", "C", "D", "E", "F"),
		Concurrency: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, map[ModuleID]Outcome{
		"A": Success, "B": Success, "C": Failed,
		"D": Success, "E": Failed, "F": Success,
	}, summary.Outcomes())
	assert.ElementsMatch(t, ids("A", "B", "C", "D", "E", "F"), summary.Modules())

	for _, res := range summary.Results() {
		if res.Module == "E" {
			var pe *PanicError
			assert.True(t, errors.As(res.Err, &pe))
		}
	}
}

func TestRun_ConcurrentFailFast(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	started := make(chan struct{})
	release := make(chan struct{})
	// A fails only once B is running, so B is past the fail-fast check.
	reg := registryOf(units, map[ModuleID]func(context.Context, *Invocation) error{
		"A": func(ctx context.Context, inv *Invocation) error {
			select {
			case <-started:
			case <-time.After(5 * time.Second):
			}
			return failing(ctx, inv)
		},
		"B": func(context.Context, *Invocation) error {
			close(started)
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			return nil
		},
	})
	obs := &hookObserver{
		afterStage: func(_ context.Context, _ string, res StageResult) error {
			if res.Module == "D" {
				close(release)
			}
			return nil
		},
	}

	orch := quietOrchestrator(reg)
	orch.Observer = obs
	summary, err := orch.Run(context.Background(), tree, cfg, Options{
		Modules:     ids("A", "B", "C", "D"),
		Concurrency: 2,
		FailFast:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, map[ModuleID]Outcome{"A": Failed, "B": Success, "C": Skipped, "D": Skipped}, summary.Outcomes())
	assert.Zero(t, units.count("C"))
	assert.Zero(t, units.count("D"))
}

func TestRun_DryRunInvokesNothing(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()

	for _, concurrency := range []int{1, 4} {
		summary, err := quietOrchestrator(registryOf(units, nil)).Run(context.Background(), tree, cfg, Options{
			DryRun:      true,
			Concurrency: concurrency,
		})
		require.NoError(t, err)
		assert.Equal(t, len(AllModules), summary.Count(Skipped))
	}
	assert.Zero(t, units.total())
}

func TestRun_PreCheck(t *testing.T) {
	tests := []struct {
		policy  string
		want    Outcome
		invoked int
	}{
		{policy: "warn", want: Skipped, invoked: 0},
		{policy: "skip", want: Skipped, invoked: 0},
		{policy: "error", want: Failed, invoked: 0},
		{policy: "force", want: Success, invoked: 1},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			tree, cfg := testConfig(t)
			dir := filepath.Join(cfg.Outputs.Root, "module_a")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "result.csv"), []byte("x"), 0o644))

			units := newFakeUnits()
			summary, err := quietOrchestrator(registryOf(units, nil)).Run(context.Background(), tree, cfg, Options{
				Modules:         ids("A", "B"),
				OverwritePolicy: tt.policy,
			})
			require.NoError(t, err)

			got, ok := summary.Outcome("A")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.invoked, units.count("A"))
			assert.FileExists(t, filepath.Join(dir, "result.csv"))

			if tt.want == Failed {
				assert.Equal(t, 1, summary.Len(), "serial run halts after the failed pre-check")
			} else {
				b, _ := summary.Outcome("B")
				assert.Equal(t, Success, b)
			}
		})
	}
}

func TestRun_EmptyOutputDirIsNotOutput(t *testing.T) {
	tree, cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Outputs.Root, "module_a"), 0o755))
	units := newFakeUnits()

	summary, err := quietOrchestrator(registryOf(units, nil)).Run(context.Background(), tree, cfg, Options{Modules: ids("A")})
	require.NoError(t, err)
	got, _ := summary.Outcome("A")
	assert.Equal(t, Success, got)
}

type validatorFunc func(ctx context.Context, tree *config.Tree) error

func (f validatorFunc) Validate(ctx context.Context, tree *config.Tree) error { return f(ctx, tree) }

func TestRun_ValidationFailureIsFatal(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	orch := quietOrchestrator(registryOf(units, nil))
	orch.Validator = validatorFunc(func(context.Context, *config.Tree) error {
		return errors.New("missing teams_csv")
	})

	summary, err := orch.Run(context.Background(), tree, cfg, Options{})
	require.ErrorIs(t, err, config.ErrConfigInvalid)
	assert.Nil(t, summary)
	assert.Zero(t, units.total())
}

func TestRun_FatalSelectionErrors(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	orch := quietOrchestrator(registryOf(units, nil))

	_, err := orch.Run(context.Background(), tree, cfg, Options{Modules: ids("A", "X")})
	assert.ErrorIs(t, err, ErrInvalidModules)

	_, err = orch.Run(context.Background(), tree, cfg, Options{Modules: ids("A"), StartFrom: "B"})
	assert.ErrorIs(t, err, ErrInvalidModules)

	_, err = orch.Run(context.Background(), tree, cfg, Options{OverwritePolicy: "safe"})
	assert.ErrorIs(t, err, overwrite.ErrInvalidPolicy)

	assert.Zero(t, units.total())
}

func TestRun_Retry(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	reg := registryOf(units, map[ModuleID]func(context.Context, *Invocation) error{
		"A": func(_ context.Context, inv *Invocation) error {
			if inv.Attempt < 3 {
				return errors.New("transient")
			}
			return nil
		},
		"B": func(context.Context, *Invocation) error {
			return PermanentErr(errors.New("bad input"))
		},
	})

	summary, err := quietOrchestrator(reg).Run(context.Background(), tree, cfg, Options{
		Modules:           ids("A", "B"),
		ContinueOnFailure: true,
		Retry:             ExponentialBackoffPolicy{Initial: time.Millisecond, MaxAttempts: 3},
	})
	require.NoError(t, err)

	results := summary.Results()
	require.Len(t, results, 2)
	assert.Equal(t, Success, results[0].Outcome)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, Failed, results[1].Outcome)
	assert.Equal(t, 1, results[1].Attempts)
}

func TestRun_StageTimeout(t *testing.T) {
	tree, cfg := testConfig(t)
	reg := NewRegistry()
	reg.Register(Entry{
		Module:  "A",
		Timeout: 10 * time.Millisecond,
		Strategies: []Strategy{InProcess{Label: "slow", Unit: func(ctx context.Context, _ *Invocation) error {
			<-ctx.Done()
			return ctx.Err()
		}}},
	})

	summary, err := quietOrchestrator(reg).Run(context.Background(), tree, cfg, Options{Modules: ids("A")})
	require.NoError(t, err)
	res := summary.Results()[0]
	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestRun_UnregisteredModuleFails(t *testing.T) {
	tree, cfg := testConfig(t)
	summary, err := quietOrchestrator(NewRegistry()).Run(context.Background(), tree, cfg, Options{Modules: ids("A")})
	require.NoError(t, err)
	res := summary.Results()[0]
	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNotRegistered)
}

func TestRun_InvocationCarriesContext(t *testing.T) {
	tree, cfg := testConfig(t)
	var got *Invocation
	var ctxLogger *slog.Logger
	reg := NewRegistry()
	reg.RegisterUnit("G", func(ctx context.Context, inv *Invocation) error {
		got = inv
		ctxLogger = logging.FromContext(ctx)
		return nil
	})

	summary, err := quietOrchestrator(reg).Run(context.Background(), tree, cfg, Options{
		Modules:         ids("G"),
		RunID:           "run-42",
		OverwritePolicy: "warn",
	})
	require.NoError(t, err)
	assert.Equal(t, "run-42", summary.RunID)

	require.NotNil(t, got)
	assert.Equal(t, ModuleID("G"), got.Module)
	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, 1, got.Attempt)
	assert.Same(t, tree, got.Tree)
	assert.Same(t, cfg, got.Config)
	assert.Equal(t, filepath.Join(cfg.Outputs.Root, "module_g"), got.OutputDir)
	assert.Equal(t, overwrite.Warn, got.Policy)
	assert.NotNil(t, got.Resolver)
	assert.Same(t, got.Logger, ctxLogger)
}

func TestRun_ObserverHooks(t *testing.T) {
	tree, cfg := testConfig(t)
	var order []string
	obs := &hookObserver{
		beforeRun: func(_ context.Context, runID string, modules []ModuleID) error {
			order = append(order, fmt.Sprintf("BeforeRun:%v", modules))
			return nil
		},
		afterRun: func(_ context.Context, s *RunSummary) error {
			order = append(order, fmt.Sprintf("AfterRun:%d", s.Len()))
			return errors.New("ignored")
		},
		beforeStage: func(_ context.Context, _ string, m ModuleID) error {
			order = append(order, "BeforeStage:"+m.String())
			return errors.New("ignored")
		},
		afterStage: func(_ context.Context, _ string, res StageResult) error {
			order = append(order, "AfterStage:"+res.Module.String()+":"+string(res.Outcome))
			return nil
		},
	}
	orch := quietOrchestrator(registryOf(newFakeUnits(), nil))
	orch.Observer = MultiObserver(nil, obs)

	summary, err := orch.Run(context.Background(), tree, cfg, Options{Modules: ids("A", "B")})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count(Success))
	assert.Equal(t, []string{
		"BeforeRun:[A B]",
		"BeforeStage:A", "AfterStage:A:SUCCESS",
		"BeforeStage:B", "AfterStage:B:SUCCESS",
		"AfterRun:2",
	}, order)
}

func TestOptionsFromConfig(t *testing.T) {
	_, cfg := testConfig(t,
		"cli.modules=a,c",
		"cli.concurrency=3",
		"pipeline.continue_on_failure=true",
		"pipeline.retry_failed_modules=true",
		"pipeline.max_retry_attempts=2",
		"overwrite_policy=warn",
		"flags.dry_run=true",
	)
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, ids("A", "C"), opts.Modules)
	assert.Equal(t, 3, opts.Concurrency)
	assert.True(t, opts.ContinueOnFailure)
	assert.True(t, opts.DryRun)
	assert.Equal(t, "warn", opts.OverwritePolicy)
	assert.Equal(t, 2, opts.Retry.MaxAttempts)
	assert.Equal(t, time.Second, opts.Retry.Initial)

	tree, cfg := testConfig(t, "cli.modules=A,Q")
	opts = OptionsFromConfig(cfg)
	assert.Equal(t, ids("A", "Q"), opts.Modules)
	_, err := quietOrchestrator(NewRegistry()).Run(context.Background(), tree, cfg, opts)
	assert.ErrorIs(t, err, ErrInvalidModules)
}

func TestRun_InvalidConfigBeforeInvalidModules(t *testing.T) {
	tree, cfg := testConfig(t)
	units := newFakeUnits()
	orch := quietOrchestrator(registryOf(units, nil))
	orch.Validator = validatorFunc(func(context.Context, *config.Tree) error {
		return errors.New("missing teams_csv")
	})

	_, err := orch.Run(context.Background(), tree, cfg, Options{Modules: ids("A", "Z"), StartFrom: "Q"})
	require.ErrorIs(t, err, config.ErrConfigInvalid)
	assert.NotErrorIs(t, err, ErrInvalidModules)
	assert.Zero(t, units.total())
}

type hookObserver struct {
	beforeRun   func(context.Context, string, []ModuleID) error
	afterRun    func(context.Context, *RunSummary) error
	beforeStage func(context.Context, string, ModuleID) error
	afterStage  func(context.Context, string, StageResult) error
}

func (h *hookObserver) BeforeRun(ctx context.Context, runID string, modules []ModuleID) error {
	if h.beforeRun != nil {
		return h.beforeRun(ctx, runID, modules)
	}
	return nil
}

func (h *hookObserver) AfterRun(ctx context.Context, summary *RunSummary) error {
	if h.afterRun != nil {
		return h.afterRun(ctx, summary)
	}
	return nil
}

func (h *hookObserver) BeforeStage(ctx context.Context, runID string, module ModuleID) error {
	if h.beforeStage != nil {
		return h.beforeStage(ctx, runID, module)
	}
	return nil
}

func (h *hookObserver) AfterStage(ctx context.Context, runID string, result StageResult) error {
	if h.afterStage != nil {
		return h.afterStage(ctx, runID, result)
	}
	return nil
}
