// Package config loads the pipeline's YAML document into an ordered tree,
// merges dotted-path overrides into copies of that tree, and decodes the
// result into the typed Config schema.
//
// A document is loaded once at startup:
//
//	tree, err := config.Load("config.yaml")
//
// Operators reshape it at invocation time with KEY=VALUE overrides. Values are
// typed with YAML's own scalar rules, restricted to int, float and bool; any
// other literal is kept as a string:
//
//	overrides, err := config.ParseOverrides([]string{"pipeline.concurrency=4"})
//	merged, err := config.ApplyOverrides(tree, overrides, logger)
//
// The base tree is never modified; ApplyOverrides always works on a clone.
// Variables prefixed with PIPECTL_ become overrides through EnvOverrides
// (PIPECTL_PIPELINE__CONCURRENCY=4 sets pipeline.concurrency).
//
// Decode turns a tree into a *Config. When pipeline.strict_schema is true,
// unknown keys outside the free-form sections (inputs, outputs, model, llm,
// rolling_windows, paths) are rejected.
package config
