package pipeline

import (
	"context"
	"errors"
)

// Observer provides pre/post hooks for a run and for each stage, for logging,
// tracing and metrics. BeforeRun is called once the sequence is known and before
// any stage starts. BeforeStage/AfterStage bracket each stage, including
// stages that end SKIPPED without being invoked. AfterRun receives the final
// summary. In concurrent mode the stage hooks are called from several
// goroutines at once.
//
// Hook errors are logged by the orchestrator and never change an outcome.
type Observer interface {
	BeforeRun(ctx context.Context, runID string, modules []ModuleID) error
	AfterRun(ctx context.Context, summary *RunSummary) error
	BeforeStage(ctx context.Context, runID string, module ModuleID) error
	AfterStage(ctx context.Context, runID string, result StageResult) error
}

// MultiObserver returns an Observer that calls each non-nil observer in order.
// Every observer is called even when an earlier one fails; the errors are joined.
func MultiObserver(observers ...Observer) Observer {
	list := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) BeforeRun(ctx context.Context, runID string, modules []ModuleID) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforeRun(ctx, runID, modules))
	}
	return errors.Join(errs...)
}

func (m multiObserver) AfterRun(ctx context.Context, summary *RunSummary) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterRun(ctx, summary))
	}
	return errors.Join(errs...)
}

func (m multiObserver) BeforeStage(ctx context.Context, runID string, module ModuleID) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforeStage(ctx, runID, module))
	}
	return errors.Join(errs...)
}

func (m multiObserver) AfterStage(ctx context.Context, runID string, result StageResult) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterStage(ctx, runID, result))
	}
	return errors.Join(errs...)
}
