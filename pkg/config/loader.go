package config

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	ferrors "github.com/arthur-debert/formulary/pkg/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of configuration environment variables. Nested
// keys use a double underscore: FORMULARY_BUILD__JOBS=8.
const EnvPrefix = "FORMULARY_"

//go:embed embedded/defaults.toml
var defaultConfig []byte

// rawBytesProvider implements koanf provider for raw bytes
type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

// DefaultsContent returns the embedded default configuration
func DefaultsContent() string {
	return string(defaultConfig)
}

// Load builds the configuration from, in increasing priority: embedded
// defaults, the config file at path (TOML or YAML by extension; a missing
// file is not an error), FORMULARY_* environment variables and overrides.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, ferrors.Wrap(err, ferrors.ErrConfigLoad, "failed to load defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
				return nil, ferrors.Wrapf(err, ferrors.ErrConfigParse, "failed to load config from %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, ferrors.Wrapf(err, ferrors.ErrConfigLoad, "failed to stat config %s", path)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.ErrConfigLoad, "failed to load env vars")
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, ferrors.Wrap(err, ferrors.ErrConfigLoad, "failed to apply overrides")
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, ferrors.Wrap(err, ferrors.ErrConfigParse, "failed to unmarshal configuration")
	}

	if err := postProcessConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// FindConfigFile returns the first existing config.toml, config.yaml or
// config.yml in dir, or the config.toml path when none exists.
func FindConfigFile(dir string) string {
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(dir, "config.toml")
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return toml.Parser()
	}
}

// envKey maps FORMULARY_BUILD__PHASE_TIMEOUT to build.phase_timeout. The
// directory overrides read by pkg/paths are not configuration keys.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	switch key {
	case "data_dir", "config_dir":
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

func postProcessConfig(cfg *Config) error {
	if cfg.Build.Jobs == 0 {
		cfg.Build.Jobs = runtime.NumCPU()
	}
	if cfg.Build.Jobs < 0 {
		return ferrors.Newf(ferrors.ErrConfigValid, "build.jobs must be positive, got %d", cfg.Build.Jobs)
	}
	if cfg.Build.PhaseTimeout < 0 || cfg.Lock.Timeout < 0 || cfg.Test.Timeout < 0 || cfg.Fetch.Timeout < 0 {
		return ferrors.New(ferrors.ErrConfigValid, "timeouts must not be negative")
	}
	if cfg.Fetch.Concurrency < 1 {
		cfg.Fetch.Concurrency = 1
	}
	return nil
}
