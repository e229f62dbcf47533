package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dcshock/pipectl/config"
	"github.com/dcshock/pipectl/logging"
	"github.com/dcshock/pipectl/overwrite"
)

// Validator checks the merged tree before any stage runs. config.Validator
// satisfies it.
type Validator interface {
	Validate(ctx context.Context, tree *config.Tree) error
}

// Options select and shape one run.
type Options struct {
	// Modules is the explicit subset in the order given; empty means A-L.
	// Entries are checked by Run after config validation, so they may hold
	// unparsed user input (see SplitModuleList).
	Modules []ModuleID
	// StartFrom and StopAfter bound the selected sequence inclusively,
	// matched case-insensitively.
	StartFrom ModuleID
	StopAfter ModuleID

	// Concurrency above 1 runs stages on a bounded pool of that size.
	Concurrency int
	// ContinueOnFailure keeps a serial run going after a FAILED stage.
	// It has no effect in concurrent mode.
	ContinueOnFailure bool
	// FailFast, in concurrent mode, resolves stages that have not started
	// yet to SKIPPED once any stage has failed.
	FailFast bool
	// DryRun resolves every selected stage to SKIPPED without invoking it.
	DryRun bool
	// OverwritePolicy is force, warn, skip or error; empty means error.
	OverwritePolicy string
	Retry           ExponentialBackoffPolicy

	// RunID is generated when empty.
	RunID string
}

// OptionsFromConfig derives run options from the typed config. Values in the
// cli section, when set, take precedence over their pipeline counterparts.
// cli.modules is split but not checked; Run rejects unknown entries.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Modules:           SplitModuleList(cfg.CLI.Modules),
		Concurrency:       cfg.Pipeline.Concurrency,
		ContinueOnFailure: cfg.Pipeline.ContinueOnFailure,
		FailFast:          cfg.Pipeline.FailFast,
		DryRun:            cfg.Flags.DryRun,
		OverwritePolicy:   cfg.OverwritePolicy,
		Retry:             RetryPolicyFromConfig(cfg.Pipeline),
	}
	if cfg.CLI.Concurrency > 0 {
		opts.Concurrency = cfg.CLI.Concurrency
	}
	if cfg.CLI.OverwritePolicy != "" {
		opts.OverwritePolicy = cfg.CLI.OverwritePolicy
	}
	return opts
}

// Orchestrator runs a selected sequence of stages against one merged config.
type Orchestrator struct {
	Registry  *Registry
	Validator Validator
	// Observer is optional; see MultiObserver to combine several.
	Observer Observer
	Logger   *slog.Logger
	// Resolver is handed to every invocation. Nil means one anchored at the
	// working directory that logs to Logger.
	Resolver *overwrite.Resolver
}

// NewOrchestrator returns an orchestrator for reg.
func NewOrchestrator(reg *Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{Registry: reg, Logger: logger}
}

// Run validates the tree, computes the sequence and runs it.
//
// Fatal errors (config.ErrConfigInvalid, ErrInvalidModules,
// overwrite.ErrInvalidPolicy) are returned before any stage starts and
// produce no summary. Otherwise every stage failure, panic included, becomes
// that stage's FAILED outcome and Run returns the summary with a nil error.
func (o *Orchestrator) Run(ctx context.Context, tree *config.Tree, cfg *config.Config, opts Options) (*RunSummary, error) {
	if tree == nil || cfg == nil {
		return nil, errors.New("run: config is nil")
	}
	if o.Registry == nil {
		return nil, errors.New("run: registry is nil")
	}
	logger := o.logger()

	if o.Validator != nil {
		if err := o.Validator.Validate(ctx, tree); err != nil {
			if !errors.Is(err, config.ErrConfigInvalid) {
				err = fmt.Errorf("%w: %w", config.ErrConfigInvalid, err)
			}
			logger.Error("Config validation failed. Halting pipeline.", "error", err)
			return nil, err
		}
	}

	seq, err := SelectSequence(opts.Modules, opts.StartFrom, opts.StopAfter)
	if err != nil {
		return nil, err
	}
	policyName := opts.OverwritePolicy
	if policyName == "" {
		policyName = string(overwrite.Error)
	}
	policy, err := overwrite.ParsePolicy(policyName)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With("run_id", runID)
	resolver := o.Resolver
	if resolver == nil {
		resolver = overwrite.NewResolver("", logger)
	}

	r := &run{
		orch:     o,
		tree:     tree,
		cfg:      cfg,
		opts:     opts,
		policy:   policy,
		runID:    runID,
		logger:   logger,
		resolver: resolver,
		summary:  newRunSummary(runID),
	}

	logger.Info("Final module sequence.", "modules", seq, "concurrency", max(opts.Concurrency, 1),
		"overwrite_policy", policy.String(), "dry_run", opts.DryRun)
	r.hook("before run", func() error { return r.observer().BeforeRun(ctx, runID, seq) })

	switch {
	case len(seq) == 0:
		logger.Warn("Module sequence is empty; nothing to run.")
	case opts.Concurrency > 1:
		r.concurrent(ctx, seq)
	default:
		r.serial(ctx, seq)
	}

	r.hook("after run", func() error { return r.observer().AfterRun(ctx, r.summary) })
	r.logSummary()
	return r.summary, nil
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// run is the state of one Orchestrator.Run call.
type run struct {
	orch     *Orchestrator
	tree     *config.Tree
	cfg      *config.Config
	opts     Options
	policy   overwrite.Policy
	runID    string
	logger   *slog.Logger
	resolver *overwrite.Resolver
	summary  *RunSummary

	failed atomic.Bool
}

func (r *run) serial(ctx context.Context, seq []ModuleID) {
	for _, m := range seq {
		res := r.runStage(ctx, m)
		if res.Outcome == Failed && !r.opts.ContinueOnFailure {
			r.logger.Warn("Pipeline halted due to failure.", "module", m.String())
			return
		}
	}
}

// concurrent submits every stage to a pool of opts.Concurrency workers and
// waits for all of them. Nothing is cancelled when a stage fails.
func (r *run) concurrent(ctx context.Context, seq []ModuleID) {
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, m := range seq {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					err := &PanicError{Value: p, Stack: debug.Stack()}
					r.logger.Error("Worker for module crashed.", "module", m.String(), "error", err)
					r.failed.Store(true)
					r.summary.record(StageResult{Module: m, Outcome: Failed, Reason: "worker panic", Err: err})
				}
			}()
			r.runStage(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) runStage(ctx context.Context, m ModuleID) StageResult {
	r.hook("before stage", func() error { return r.observer().BeforeStage(ctx, r.runID, m) })
	res := r.execute(ctx, m)
	if res.Outcome == Failed {
		r.failed.Store(true)
	}
	r.summary.record(res)
	r.hook("after stage", func() error { return r.observer().AfterStage(ctx, r.runID, res) })
	return res
}

// execute settles one stage. It never panics and never returns without an outcome.
func (r *run) execute(ctx context.Context, m ModuleID) (res StageResult) {
	start := time.Now()
	res = StageResult{Module: m}
	logger := r.logger.With("module", m.String())
	defer func() {
		if p := recover(); p != nil {
			err := &PanicError{Value: p, Stack: debug.Stack()}
			logger.Error("Unhandled error in module.", "error", err, "stack", string(err.Stack))
			res.Outcome, res.Reason, res.Err = Failed, "panic", err
		}
		res.Duration = time.Since(start)
	}()

	if r.opts.DryRun {
		logger.Info("[DRY-RUN] Skipping module.")
		res.Outcome, res.Reason = Skipped, "dry run"
		return res
	}
	if r.opts.FailFast && r.failed.Load() {
		logger.Warn("Skipping module after an earlier failure (fail_fast).")
		res.Outcome, res.Reason = Skipped, "fail fast"
		return res
	}

	outDir, err := r.resolver.Normalize(OutputDir(r.cfg.Outputs.Root, m))
	if err != nil {
		logger.Error("Cannot resolve module output dir.", "error", err)
		res.Outcome, res.Reason, res.Err = Failed, "output dir", err
		return res
	}
	if r.policy != overwrite.Force {
		has, err := overwrite.HasOutput(outDir)
		if err != nil {
			logger.Error("Cannot inspect module output dir.", "output_dir", outDir, "error", err)
			res.Outcome, res.Reason, res.Err = Failed, "pre-check", err
			return res
		}
		if has {
			switch r.policy {
			case overwrite.Error:
				logger.Error("Output for module exists. Overwrite forbidden.", "output_dir", outDir)
				res.Outcome, res.Reason = Failed, "output exists"
				res.Err = fmt.Errorf("%w: %s", overwrite.ErrOutputExists, outDir)
			default:
				logger.Warn("Output for module exists. Skipping per policy.", "output_dir", outDir)
				res.Outcome, res.Reason = Skipped, "output exists"
			}
			return res
		}
	}

	entry, ok := r.orch.Registry.Get(m)
	if !ok {
		res.Outcome, res.Reason = Failed, "not registered"
		res.Err = fmt.Errorf("%w: module %s", ErrNotRegistered, m)
		logger.Error("Module has no registry entry.", "error", res.Err)
		return res
	}

	logger.Info("Running module.", "output_dir", outDir)
	inv := &Invocation{
		Module:    m,
		RunID:     r.runID,
		Tree:      r.tree,
		Config:    r.cfg,
		Logger:    logger,
		OutputDir: outDir,
		Resolver:  r.resolver,
		Policy:    r.policy,
	}
	invoke := WithTimeout(entry.Invoker().Invoke, entry.Timeout)
	stageCtx := logging.WithLogger(ctx, logger)
	for n := 0; ; n++ {
		res.Attempts++
		inv.Attempt = res.Attempts
		err = invoke(stageCtx, inv)
		if err == nil {
			logger.Info("Module completed.", "elapsed", time.Since(start).Round(time.Millisecond), "attempts", res.Attempts)
			res.Outcome = Success
			return res
		}
		if !r.opts.Retry.Allow(n, err) {
			break
		}
		delay := r.opts.Retry.Delay(n)
		logger.Warn("Module failed, retrying.", "attempt", res.Attempts, "delay", delay, "error", err)
		if sleepContext(ctx, delay) != nil {
			break
		}
	}
	logger.Error("Module failed.", "attempts", res.Attempts, "error", err)
	res.Outcome, res.Reason, res.Err = Failed, "execution", err
	return res
}

func (r *run) observer() Observer {
	if r.orch.Observer == nil {
		return MultiObserver()
	}
	return r.orch.Observer
}

// hook runs an observer call, logging its error or panic.
func (r *run) hook(name string, call func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Observer panicked.", "hook", name, "panic", p)
		}
	}()
	if err := call(); err != nil {
		r.logger.Warn("Observer failed.", "hook", name, "error", err)
	}
}

func (r *run) logSummary() {
	results := r.summary.Results()
	r.logger.Info("Pipeline summary.",
		"stages", len(results),
		"success", r.summary.Count(Success),
		"skipped", r.summary.Count(Skipped),
		"failed", r.summary.Count(Failed),
	)
	for _, res := range results {
		attrs := []any{"module", res.Module.String(), "outcome", string(res.Outcome), "duration", res.Duration.Round(time.Millisecond)}
		if res.Reason != "" {
			attrs = append(attrs, "reason", res.Reason)
		}
		r.logger.Info(" - Module "+res.Module.String()+": "+string(res.Outcome), attrs...)
	}
}
