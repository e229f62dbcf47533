package overwrite

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Resolver normalizes output paths and applies the overwrite policy to them.
type Resolver struct {
	// Base anchors relative paths. Empty means the working directory.
	Base   string
	Logger *slog.Logger
}

// NewResolver returns a resolver anchored at base.
func NewResolver(base string, logger *slog.Logger) *Resolver {
	return &Resolver{Base: base, Logger: logger}
}

// Resolve returns the absolute form of path once its parent directory exists.
// A missing target is always writable and the policy is not consulted. An
// existing one fails with ErrOutputExists under Error, is reported with a
// warning under Warn, and is accepted silently under Force; any other policy
// is ErrInvalidPolicy. The target itself is never opened, written or removed
// here.
func (r *Resolver) Resolve(path, policy string) (string, error) {
	abs, err := r.Normalize(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", abs, err)
	}

	_, err = os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return abs, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}

	p, err := ParsePolicy(policy)
	if err != nil {
		return "", err
	}
	switch p {
	case Error:
		return "", fmt.Errorf("%w: %s (overwrite_policy=error)", ErrOutputExists, abs)
	case Warn:
		r.logger().Warn("Output exists and will be overwritten.", "path", abs, "overwrite_policy", string(p))
	}
	return abs, nil
}

// Normalize expands environment references and a leading ~, anchors relative
// paths at Base, and cleans the result.
func (r *Resolver) Normalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty output path")
	}
	expanded := os.ExpandEnv(path)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", path, err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}
	if !filepath.IsAbs(expanded) && r.Base != "" {
		base, err := r.Normalize(r.Base)
		if err != nil {
			return "", err
		}
		expanded = filepath.Join(base, expanded)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("absolute path for %q: %w", path, err)
	}
	return abs, nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Resolve applies policy to path using a resolver anchored at the working
// directory and the default logger.
func Resolve(path, policy string) (string, error) {
	return (&Resolver{}).Resolve(path, policy)
}

// HasOutput reports whether dir exists and holds at least one entry.
func HasOutput(dir string) (bool, error) {
	f, err := os.Open(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", dir, err)
	}
	return true, nil
}
