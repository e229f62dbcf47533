// Package cli implements the pipectl command tree.
//
//	pipectl [--config-path FILE] [--set KEY=VALUE]... [run flags]
//	pipectl validate [--paths]
//	pipectl modules
//
// Errors returned by Execute are *ExitError values; ExitCode maps them to the
// process exit status (2 for an invalid module selection, 1 otherwise).
package cli
