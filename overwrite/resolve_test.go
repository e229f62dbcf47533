package overwrite

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{
		"force": Force,
		"warn":  Warn,
		"skip":  Warn,
		"error": Error,
	} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "safe", "overwrite", "FORCE", "Error", " warn", "warn "} {
		_, err := ParsePolicy(bad)
		assert.ErrorIs(t, err, ErrInvalidPolicy, bad)
	}
}

func TestResolve_MissingTarget(t *testing.T) {
	base := t.TempDir()
	r := NewResolver(base, nil)

	for _, policy := range []string{"error", "warn", "force"} {
		got, err := r.Resolve(filepath.Join("nested", policy, "out.csv"), policy)
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got))
		assert.Equal(t, filepath.Join(base, "nested", policy, "out.csv"), got)
		assert.DirExists(t, filepath.Dir(got))
		assert.NoFileExists(t, got)
	}
}

func TestResolve_ExistingError(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o644))

	_, err := Resolve(target, "error")
	require.ErrorIs(t, err, ErrOutputExists)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestResolve_ExistingForceDoesNotTouchTarget(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o644))

	var buf bytes.Buffer
	r := NewResolver("", slog.New(slog.NewTextHandler(&buf, nil)))
	got, err := r.Resolve(target, "force")
	require.NoError(t, err)
	assert.Equal(t, target, got)
	assert.Empty(t, buf.String())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestResolve_ExistingWarnLogs(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o644))

	for _, policy := range []string{"warn", "skip"} {
		var buf bytes.Buffer
		r := NewResolver("", slog.New(slog.NewTextHandler(&buf, nil)))
		got, err := r.Resolve(target, policy)
		require.NoError(t, err)
		assert.Equal(t, target, got)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "Output exists and will be overwritten.")
	}
}

func TestResolve_InvalidPolicy(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "sub", "missing.csv")
	got, err := Resolve(missing, "bogus")
	require.NoError(t, err, "policy is irrelevant for a missing target")
	assert.Equal(t, missing, got)
	assert.DirExists(t, filepath.Join(dir, "sub"))
	assert.NoFileExists(t, missing)

	existing := filepath.Join(dir, "existing.csv")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o644))
	_, err = Resolve(existing, "bogus")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestNormalize_ExpandsEnvAndHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIPECTL_TEST_ROOT", dir)
	t.Setenv("HOME", dir)

	r := &Resolver{}
	got, err := r.Normalize("$PIPECTL_TEST_ROOT/a/../b.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.csv"), got)

	got, err = r.Normalize("~/c.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c.csv"), got)

	_, err = r.Normalize("  ")
	assert.Error(t, err)
}

func TestHasOutput(t *testing.T) {
	dir := t.TempDir()

	has, err := HasOutput(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.False(t, has)

	has, err = HasOutput(dir)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "part.csv"), nil, 0o644))
	has, err = HasOutput(dir)
	require.NoError(t, err)
	assert.True(t, has)
}
