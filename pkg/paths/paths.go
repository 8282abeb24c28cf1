// Package paths provides centralized path handling for formulary.
// It implements XDG Base Directory specification compliance for the tool's
// own files and derives the cellar/prefix layout kegs are installed into.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// Environment variable names
const (
	// EnvDataDir overrides the XDG data directory for formulary
	EnvDataDir = "FORMULARY_DATA_DIR"

	// EnvConfigDir overrides the XDG config directory for formulary
	EnvConfigDir = "FORMULARY_CONFIG_DIR"

	// EnvCacheDir overrides the XDG cache directory for formulary
	EnvCacheDir = "FORMULARY_CACHE_DIR"

	// EnvHome is the standard home directory variable
	EnvHome = "HOME"
)

// Fixed layout names. These describe the on-disk structure of a prefix and
// are not configurable.
const (
	AppDirName      = "formulary"
	CellarDirName   = "Cellar"
	OptDirName      = "opt"
	LocksDirName    = "locks"
	LogsDirName     = "logs"
	DownloadsDir    = "downloads"
	BuildDirName    = "build"
	FormulaDirName  = "formulae"
	ConfigFileName  = "config.toml"
	ReceiptFileName = "INSTALL_RECEIPT.json"
	LogFileName     = "formulary.log"
)

// LinkedDirs are the keg subdirectories linked into the global prefix.
var LinkedDirs = []string{"bin", "etc", "include", "lib", "sbin", "share"}

// Options overrides individual locations. Empty fields fall back to the
// XDG defaults.
type Options struct {
	Prefix   string
	Cellar   string
	CacheDir string
	LogDir   string
	BuildDir string
}

// Paths provides centralized path management for formulary
type Paths interface {
	Prefix() string
	Cellar() string
	OptDir() string
	DataDir() string
	ConfigDir() string
	ConfigFile() string
	CacheDir() string
	DownloadsDir() string
	BuildDir() string
	StateDir() string
	LogDir() string
	LogFilePath() string
	FormulaDir() string
	LocksDir() string
	Keg(name, version string) string
	KegDir(name string) string
	OptPath(name string) string
	LockPath(name string) string
	PhaseLogDir(name string) string
}

type paths struct {
	prefix   string
	cellar   string
	data     string
	config   string
	cache    string
	state    string
	logDir   string
	buildDir string
}

// New creates a Paths instance from the given overrides.
func New(opts Options) (Paths, error) {
	p := &paths{}
	p.setupXDGDirs()

	p.prefix = opts.Prefix
	if p.prefix == "" {
		p.prefix = filepath.Join(p.data, "prefix")
	}
	prefix, err := filepath.Abs(ExpandHome(p.prefix))
	if err != nil {
		return nil, err
	}
	p.prefix = prefix

	p.cellar = ExpandHome(opts.Cellar)
	if p.cellar == "" {
		p.cellar = filepath.Join(p.prefix, CellarDirName)
	}
	if opts.CacheDir != "" {
		p.cache = ExpandHome(opts.CacheDir)
	}
	p.logDir = ExpandHome(opts.LogDir)
	if p.logDir == "" {
		p.logDir = filepath.Join(p.state, LogsDirName)
	}
	p.buildDir = ExpandHome(opts.BuildDir)
	if p.buildDir == "" {
		p.buildDir = filepath.Join(p.cache, BuildDirName)
	}

	return p, nil
}

// setupXDGDirs initializes XDG directories, respecting environment overrides
func (p *paths) setupXDGDirs() {
	if dataDir := os.Getenv(EnvDataDir); dataDir != "" {
		p.data = ExpandHome(dataDir)
	} else if env := os.Getenv("XDG_DATA_HOME"); env != "" {
		p.data = filepath.Join(env, AppDirName)
	} else {
		p.data = filepath.Join(xdg.DataHome, AppDirName)
	}

	if configDir := os.Getenv(EnvConfigDir); configDir != "" {
		p.config = ExpandHome(configDir)
	} else if env := os.Getenv("XDG_CONFIG_HOME"); env != "" {
		p.config = filepath.Join(env, AppDirName)
	} else {
		p.config = filepath.Join(xdg.ConfigHome, AppDirName)
	}

	if cacheDir := os.Getenv(EnvCacheDir); cacheDir != "" {
		p.cache = ExpandHome(cacheDir)
	} else if env := os.Getenv("XDG_CACHE_HOME"); env != "" {
		p.cache = filepath.Join(env, AppDirName)
	} else {
		p.cache = filepath.Join(xdg.CacheHome, AppDirName)
	}

	if env := os.Getenv("XDG_STATE_HOME"); env != "" {
		p.state = filepath.Join(env, AppDirName)
	} else {
		p.state = filepath.Join(xdg.StateHome, AppDirName)
	}
}

func (p *paths) Prefix() string       { return p.prefix }
func (p *paths) Cellar() string       { return p.cellar }
func (p *paths) OptDir() string       { return filepath.Join(p.prefix, OptDirName) }
func (p *paths) DataDir() string      { return p.data }
func (p *paths) ConfigDir() string    { return p.config }
func (p *paths) ConfigFile() string   { return filepath.Join(p.config, ConfigFileName) }
func (p *paths) CacheDir() string     { return p.cache }
func (p *paths) DownloadsDir() string { return filepath.Join(p.cache, DownloadsDir) }
func (p *paths) BuildDir() string     { return p.buildDir }
func (p *paths) StateDir() string     { return p.state }
func (p *paths) LogDir() string       { return p.logDir }
func (p *paths) LogFilePath() string  { return filepath.Join(p.state, LogFileName) }
func (p *paths) FormulaDir() string   { return filepath.Join(p.data, FormulaDirName) }
func (p *paths) LocksDir() string     { return filepath.Join(p.prefix, "var", AppDirName, LocksDirName) }

// Keg returns the installation root of one version of a package.
func (p *paths) Keg(name, version string) string {
	return filepath.Join(p.cellar, name, version)
}

// KegDir returns the directory holding every installed version of a package.
func (p *paths) KegDir(name string) string {
	return filepath.Join(p.cellar, name)
}

// OptPath is the stable, version-independent link to a package's keg.
func (p *paths) OptPath(name string) string {
	return filepath.Join(p.OptDir(), name)
}

// LockPath is the lock file serialising installs and uninstalls of one
// formula. Every version shares it since they share opt/<name> and the
// prefix links.
func (p *paths) LockPath(name string) string {
	return filepath.Join(p.LocksDir(), name+".lock")
}

// PhaseLogDir holds the captured output of each build phase of a package.
func (p *paths) PhaseLogDir(name string) string {
	return filepath.Join(p.logDir, name)
}

// ExpandHome expands a leading ~ to the user's home directory
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv(EnvHome)
		if homeDir == "" {
			return path
		}
	}

	if len(path) == 1 {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
