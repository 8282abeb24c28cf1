package config

import (
	"time"
)

// Build holds settings applied to every build run
type Build struct {
	// Jobs is the worker hint for parallel phases
	Jobs int `koanf:"jobs"`
	// PhaseTimeout bounds each phase without its own timeout. Zero disables it.
	PhaseTimeout time.Duration `koanf:"phase_timeout"`
	// KeepBuildDir leaves the extracted source tree in place after the run
	KeepBuildDir bool `koanf:"keep_build_dir"`
	// EnvPassthrough lists variables inherited from the calling environment
	EnvPassthrough []string `koanf:"env_passthrough"`
}

// Lock holds prefix lock settings
type Lock struct {
	Timeout    time.Duration `koanf:"timeout"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// Test holds formula test settings
type Test struct {
	RunAfterInstall bool          `koanf:"run_after_install"`
	Timeout         time.Duration `koanf:"timeout"`
}

// Fetch holds download settings
type Fetch struct {
	Concurrency int           `koanf:"concurrency"`
	Timeout     time.Duration `koanf:"timeout"`
}

// Config is the main configuration structure
type Config struct {
	Prefix       string   `koanf:"prefix"`
	Cellar       string   `koanf:"cellar"`
	CacheDir     string   `koanf:"cache_dir"`
	LogDir       string   `koanf:"log_dir"`
	BuildDir     string   `koanf:"build_dir"`
	FormulaPaths []string `koanf:"formula_paths"`

	Build Build `koanf:"build"`
	Lock  Lock  `koanf:"lock"`
	Test  Test  `koanf:"test"`
	Fetch Fetch `koanf:"fetch"`
}
