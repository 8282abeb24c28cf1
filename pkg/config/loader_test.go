package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, runtime.NumCPU(), cfg.Build.Jobs)
	assert.Equal(t, time.Duration(0), cfg.Build.PhaseTimeout)
	assert.Equal(t, 30*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.RetryDelay)
	assert.True(t, cfg.Test.RunAfterInstall)
	assert.Contains(t, cfg.Build.EnvPassthrough, "PATH")
	assert.Equal(t, 4, cfg.Fetch.Concurrency)
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
prefix = "/opt/formulary"
formula_paths = ["/srv/formulae"]

[build]
jobs = 3
phase_timeout = "45m"
`), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/opt/formulary", cfg.Prefix)
	assert.Equal(t, []string{"/srv/formulae"}, cfg.FormulaPaths)
	assert.Equal(t, 3, cfg.Build.Jobs)
	assert.Equal(t, 45*time.Minute, cfg.Build.PhaseTimeout)
	// untouched sections keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Lock.Timeout)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cellar: /kegs
test:
  run_after_install: false
`), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/kegs", cfg.Cellar)
	assert.False(t, cfg.Test.RunAfterInstall)
	assert.Equal(t, path, FindConfigFile(dir))
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[build]\njobs = 2\n"), 0644))

	t.Setenv("FORMULARY_BUILD__JOBS", "6")
	t.Setenv("FORMULARY_BUILD__PHASE_TIMEOUT", "1h")
	t.Setenv("FORMULARY_FORMULA_PATHS", "/a,/b")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Build.Jobs, "env beats file")
	assert.Equal(t, time.Hour, cfg.Build.PhaseTimeout)
	assert.Equal(t, []string{"/a", "/b"}, cfg.FormulaPaths)

	cfg, err = Load(path, map[string]interface{}{"build.jobs": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Build.Jobs, "overrides beat env")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load("", map[string]interface{}{"build.jobs": -2})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigValid))

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[build\n"), 0644))
	_, err = Load(path, nil)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigParse))
}

func TestFindConfigFileDefaultsToTOML(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "config.toml"), FindConfigFile(dir))
	assert.Contains(t, DefaultsContent(), "[build]")
}
