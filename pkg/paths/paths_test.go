package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsFollowXDG(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, "state"))
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvConfigDir, "")
	t.Setenv(EnvCacheDir, "")

	p, err := New(Options{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "data", "formulary", "prefix"), p.Prefix())
	assert.Equal(t, filepath.Join(p.Prefix(), "Cellar"), p.Cellar())
	assert.Equal(t, filepath.Join(root, "config", "formulary", "config.toml"), p.ConfigFile())
	assert.Equal(t, filepath.Join(root, "cache", "formulary", "downloads"), p.DownloadsDir())
	assert.Equal(t, filepath.Join(root, "cache", "formulary", "build"), p.BuildDir())
	assert.Equal(t, filepath.Join(root, "state", "formulary", "logs"), p.LogDir())
	assert.Equal(t, filepath.Join(root, "data", "formulary", "formulae"), p.FormulaDir())
}

func TestKegLayout(t *testing.T) {
	prefix := t.TempDir()
	p, err := New(Options{Prefix: prefix})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(prefix, "Cellar", "r", "4.4.1"), p.Keg("r", "4.4.1"))
	assert.Equal(t, filepath.Join(prefix, "Cellar", "r"), p.KegDir("r"))
	assert.Equal(t, filepath.Join(prefix, "opt", "openblas"), p.OptPath("openblas"))
	assert.Equal(t, filepath.Join(prefix, "var", "formulary", "locks", "r.lock"), p.LockPath("r"))
}

func TestOverrides(t *testing.T) {
	root := t.TempDir()
	p, err := New(Options{
		Prefix:   filepath.Join(root, "prefix"),
		Cellar:   filepath.Join(root, "kegs"),
		CacheDir: filepath.Join(root, "cache"),
		LogDir:   filepath.Join(root, "logs"),
		BuildDir: filepath.Join(root, "tmp"),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "kegs"), p.Cellar())
	assert.Equal(t, filepath.Join(root, "cache", "downloads"), p.DownloadsDir())
	assert.Equal(t, filepath.Join(root, "logs", "r"), p.PhaseLogDir("r"))
	assert.Equal(t, filepath.Join(root, "tmp"), p.BuildDir())
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	assert.Equal(t, "", ExpandHome(""))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "/home/tester", ExpandHome("~"))
	assert.Equal(t, filepath.Join("/home/tester", ".config"), ExpandHome("~/.config"))
	assert.Equal(t, "~other/x", ExpandHome("~other/x"))
}
