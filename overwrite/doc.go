// Package overwrite decides whether an output may be written under the
// pipeline's overwrite policy.
//
// Two call sites read the same policy differently:
//
//   - Resolver.Resolve is used right before writing a file. Under "warn" it
//     logs that an existing file will be overwritten and lets the write go on.
//   - HasOutput backs the orchestrator's stage pre-check, where "warn" means
//     the stage is skipped because its output directory is already populated.
package overwrite
