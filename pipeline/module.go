package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrInvalidModules indicates a module list or bound naming an unknown module.
	ErrInvalidModules = errors.New("invalid module list")

	// ErrStageExecution indicates every invocation strategy of a stage failed.
	ErrStageExecution = errors.New("stage execution failed")

	// ErrNotRegistered indicates a unit or module missing from a catalog or registry.
	ErrNotRegistered = errors.New("not registered")
)

// ModuleID identifies a stage by a single upper-case letter.
type ModuleID string

// AllModules is the default sequence.
var AllModules = []ModuleID{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}

// Valid reports whether m is one of AllModules.
func (m ModuleID) Valid() bool { return slices.Contains(AllModules, m) }

// Lower returns the lower-case letter used in directory and command names.
func (m ModuleID) Lower() string { return strings.ToLower(string(m)) }

func (m ModuleID) String() string { return string(m) }

// Name returns "module_<letter>".
func (m ModuleID) Name() string { return "module_" + m.Lower() }

// OutputDir returns <root>/module_<letter>.
func OutputDir(root string, m ModuleID) string {
	return filepath.Join(root, m.Name())
}

// ParseModuleID parses a single module letter, case-insensitively.
func ParseModuleID(s string) (ModuleID, error) {
	m := normalizeModuleID(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q is not one of A-L", ErrInvalidModules, s)
	}
	return m, nil
}

// ParseModuleList parses a comma-separated list such as "A,c, D". The order
// given is kept and repeated letters are dropped. Every invalid entry is
// reported in the error. An empty string yields nil (all modules).
func ParseModuleList(s string) ([]ModuleID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		out     []ModuleID
		invalid []string
	)
	for _, part := range strings.Split(s, ",") {
		m := normalizeModuleID(part)
		if !m.Valid() {
			invalid = append(invalid, strings.TrimSpace(part))
			continue
		}
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: invalid module(s) %q", ErrInvalidModules, invalid)
	}
	return out, nil
}

// SplitModuleList splits a comma-separated list into upper-cased entries
// without checking them; SelectSequence rejects the invalid ones. An empty
// string yields nil (all modules).
func SplitModuleList(s string) []ModuleID {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]ModuleID, len(parts))
	for i, part := range parts {
		out[i] = normalizeModuleID(part)
	}
	return out
}

func normalizeModuleID(s string) ModuleID {
	return ModuleID(strings.ToUpper(strings.TrimSpace(s)))
}

// SelectSequence computes the execution sequence: subset (or AllModules when
// empty), then cut to start..stop inclusive by position in that sequence.
// Entries and bounds match case-insensitively and either bound may be empty.
// Unknown entries (all of them are reported) and bounds outside the sequence
// are ErrInvalidModules. Applying SelectSequence to its own output with the
// same bounds is a no-op.
func SelectSequence(subset []ModuleID, start, stop ModuleID) ([]ModuleID, error) {
	seq := AllModules
	if len(subset) > 0 {
		seq = make([]ModuleID, 0, len(subset))
		var invalid []string
		for _, raw := range subset {
			m := normalizeModuleID(string(raw))
			if !m.Valid() {
				invalid = append(invalid, string(raw))
				continue
			}
			if !slices.Contains(seq, m) {
				seq = append(seq, m)
			}
		}
		if len(invalid) > 0 {
			return nil, fmt.Errorf("%w: invalid module(s) %q", ErrInvalidModules, invalid)
		}
	}
	seq = slices.Clone(seq)

	if start != "" {
		i := slices.Index(seq, normalizeModuleID(string(start)))
		if i < 0 {
			return nil, fmt.Errorf("%w: start_from %q is not in the selected sequence %v", ErrInvalidModules, start, seq)
		}
		seq = seq[i:]
	}
	if stop != "" {
		i := slices.Index(seq, normalizeModuleID(string(stop)))
		if i < 0 {
			return nil, fmt.Errorf("%w: stop_after %q is not in the selected sequence %v", ErrInvalidModules, stop, seq)
		}
		seq = seq[:i+1]
	}
	return seq, nil
}
