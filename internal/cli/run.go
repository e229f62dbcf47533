package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcshock/pipectl/config"
	"github.com/dcshock/pipectl/observer"
	"github.com/dcshock/pipectl/pipeline"
	"github.com/dcshock/pipectl/stages"
)

// runFlags are the root command's run options. They win over the config
// only when given explicitly.
type runFlags struct {
	modules           string
	startFrom         string
	stopAfter         string
	concurrency       int
	continueOnFailure bool
	dryRun            bool
	overwritePolicy   string
}

func (rf *runFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&rf.modules, "modules", "", "Comma-separated subset of modules to run, in order (e.g. A,C,D)")
	f.StringVar(&rf.startFrom, "start-from", "", "First module of the selected sequence to run")
	f.StringVar(&rf.stopAfter, "stop-after", "", "Last module of the selected sequence to run")
	f.IntVar(&rf.concurrency, "concurrency", 1, "Number of stages to run at once")
	f.BoolVar(&rf.continueOnFailure, "continue-on-failure", false, "Keep running later stages after a failure (serial mode)")
	f.BoolVar(&rf.dryRun, "dry-run", false, "Resolve every stage to SKIPPED without running it")
	f.StringVar(&rf.overwritePolicy, "overwrite-policy", "", "force, warn or error when outputs already exist")
}

// apply lays explicitly set flags over opts. Module names are left for
// Orchestrator.Run to check after the config validates.
func (rf *runFlags) apply(cmd *cobra.Command, opts *pipeline.Options) error {
	f := cmd.Flags()
	if f.Changed("modules") {
		opts.Modules = pipeline.SplitModuleList(rf.modules)
	}
	if f.Changed("start-from") {
		opts.StartFrom = pipeline.ModuleID(rf.startFrom)
	}
	if f.Changed("stop-after") {
		opts.StopAfter = pipeline.ModuleID(rf.stopAfter)
	}
	if f.Changed("concurrency") {
		if rf.concurrency < 1 {
			return fmt.Errorf("%w: --concurrency must be at least 1, got %d", config.ErrConfigInvalid, rf.concurrency)
		}
		opts.Concurrency = rf.concurrency
	}
	if f.Changed("continue-on-failure") {
		opts.ContinueOnFailure = rf.continueOnFailure
	}
	if f.Changed("dry-run") {
		opts.DryRun = rf.dryRun
	}
	if f.Changed("overwrite-policy") {
		opts.OverwritePolicy = rf.overwritePolicy
	}
	return nil
}

func runPipeline(cmd *cobra.Command, g *globalFlags, rf *runFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ld, err := loadConfig(g)
	if err != nil {
		return err
	}
	opts := pipeline.OptionsFromConfig(ld.cfg)
	if err := rf.apply(cmd, &opts); err != nil {
		return err
	}

	logger, closer, err := newLogger(ld.cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("Loaded config.", "path", ld.path, "overrides", overrideStrings(ld.overrides))

	obs, shutdown, err := observer.FromConfig(ld.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("Observer shutdown failed.", "error", err)
		}
	}()

	reg, err := pipeline.BuildRegistry(ld.cfg, stages.NewCatalog(stages.NewClient(nil)))
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(reg, logger)
	orch.Validator = config.Validator{}
	orch.Observer = obs

	summary, err := orch.Run(ctx, ld.tree, ld.cfg, opts)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)

	if summary.HasFailures() && !opts.ContinueOnFailure {
		return &ExitError{
			Code:    ExitFailure,
			Message: fmt.Sprintf("pipeline failed: %d of %d modules FAILED", summary.Count(pipeline.Failed), summary.Len()),
		}
	}
	return nil
}
