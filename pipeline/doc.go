// Package pipeline sequences the lettered stages A-L and runs them against one
// merged configuration tree.
//
// A stage body is a Unit. Units are registered by name in a Catalog, and a
// Registry maps each ModuleID to an Entry: an ordered list of invocation
// strategies (InProcess, then ExternalProcess) that an Invoker tries until one
// succeeds. BuildRegistry derives the registry from the stages table of the
// config:
//
//	stages:
//	  A:
//	    unit: fetch_static_csvs
//	    timeout: 10m
//	  C:
//	    command: [python, module_c.py]
//
// Orchestrator.Run executes one run:
//
//  1. validate the merged tree (Validator); failure is fatal;
//  2. select the sequence (SelectSequence): the explicit subset or A-L, cut
//     by StartFrom/StopAfter;
//  3. for each stage: dry run resolves to SKIPPED; unless the policy is
//     force, a populated output directory resolves to FAILED (error) or
//     SKIPPED (warn) without invoking anything; otherwise the entry is
//     invoked, with retries per Options.Retry;
//  4. serially, a FAILED stage halts the run unless ContinueOnFailure is set;
//     with Concurrency > 1 every stage is submitted to a bounded pool and
//     the run always completes.
//
// The result is a RunSummary: one StageResult per stage that reached an
// outcome, in sequence order (serial) or completion order (concurrent).
//
// Observers get hooks before and after the run and each stage. Combine several
// with MultiObserver. Hook errors are logged and never change outcomes.
package pipeline
