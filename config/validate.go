package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dcshock/pipectl/overwrite"
)

// Problem is one validation finding.
type Problem struct {
	Key    string
	Value  string
	Reason string
}

func (p Problem) String() string {
	if p.Value == "" {
		return fmt.Sprintf("%s: %s", p.Key, p.Reason)
	}
	return fmt.Sprintf("%s = %s: %s", p.Key, p.Value, p.Reason)
}

// ValidationError lists every problem found in one validation pass.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		lines = append(lines, p.String())
	}
	return fmt.Sprintf("%s: %s", ErrConfigInvalid, strings.Join(lines, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrConfigInvalid }

var (
	fileSuffixes = []string{"_csv", "_file", "_path", "_template"}
	dirSuffixes  = []string{"_dir"}

	releaseChannels = map[string]bool{"": true, "alpha": true, "beta": true, "stable": true}
	environments    = map[string]bool{"": true, "dev": true, "test": true, "prod": true}
)

// Validator checks a merged tree before any stage runs.
type Validator struct {
	// CheckPaths forces the path existence checks even when
	// flags.validate_config_keys is off.
	CheckPaths bool
}

// Validate decodes the tree, checks the schema, and, when enabled, checks that
// path-valued keys point at something that exists. All problems are reported
// together in a *ValidationError.
func (v Validator) Validate(_ context.Context, t *Tree) error {
	if err := checkRequiredSections(t); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	cfg, err := Decode(t)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	problems := ValidateSchema(cfg)
	if v.CheckPaths || cfg.Flags.ValidateConfigKeys {
		problems = append(problems, ValidatePaths(t)...)
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateSchema checks value ranges and enumerations of the typed config.
func ValidateSchema(cfg *Config) []Problem {
	var problems []Problem
	add := func(key string, value any, reason string) {
		problems = append(problems, Problem{Key: key, Value: fmt.Sprint(value), Reason: reason})
	}
	if cfg.Pipeline.Concurrency < 1 {
		add("pipeline.concurrency", cfg.Pipeline.Concurrency, "must be at least 1")
	}
	if cfg.Pipeline.MaxRetryAttempts < 0 {
		add("pipeline.max_retry_attempts", cfg.Pipeline.MaxRetryAttempts, "must not be negative")
	}
	if _, err := overwrite.ParsePolicy(cfg.OverwritePolicy); err != nil {
		add("overwrite_policy", cfg.OverwritePolicy, "must be force, warn, skip or error")
	}
	if cfg.CLI.OverwritePolicy != "" {
		if _, err := overwrite.ParsePolicy(cfg.CLI.OverwritePolicy); err != nil {
			add("cli.overwrite_policy", cfg.CLI.OverwritePolicy, "must be force, warn, skip or error")
		}
	}
	if !releaseChannels[cfg.Metadata.ReleaseChannel] {
		add("metadata.release_channel", cfg.Metadata.ReleaseChannel, "must be alpha, beta or stable")
	}
	if !environments[cfg.Environment] {
		add("environment", cfg.Environment, "must be dev, test or prod")
	}
	for letter, sc := range cfg.Stages {
		if sc.Unit != "" && len(sc.Command) > 0 {
			add("stages."+letter, "", "set either unit or command, not both")
		}
		if sc.Timeout < 0 {
			add("stages."+letter+".timeout", sc.Timeout.Duration(), "must not be negative")
		}
	}
	return problems
}

// ValidatePaths checks path-valued keys outside the outputs section: keys
// ending in _csv, _file, _path or _template must name existing files, and keys
// ending in _dir must exist unless they are relative.
func ValidatePaths(t *Tree) []Problem {
	var problems []Problem
	_ = t.Walk(func(path string, n *yaml.Node) error {
		if strings.HasPrefix(path, "outputs.") || n.Kind != yaml.ScalarNode || n.Value == "" {
			return nil
		}
		key := path[strings.LastIndex(path, ".")+1:]
		switch {
		case hasAnySuffix(key, fileSuffixes):
			if !isFile(n.Value) {
				problems = append(problems, Problem{Key: path, Value: n.Value, Reason: "file does not exist"})
			}
		case hasAnySuffix(key, dirSuffixes):
			if filepath.IsAbs(n.Value) && !exists(n.Value) {
				problems = append(problems, Problem{Key: path, Value: n.Value, Reason: "directory does not exist"})
			}
		}
		return nil
	})
	return problems
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(os.ExpandEnv(path))
	return err == nil && info.Mode().IsRegular()
}

func exists(path string) bool {
	_, err := os.Stat(os.ExpandEnv(path))
	return !errors.Is(err, os.ErrNotExist)
}
