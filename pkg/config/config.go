package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultFile is read from the working directory when no config file is passed
const DefaultFile = "testpkg.toml"

// Config describes all configuration options
type Config struct {
	Profile  string `toml:"profile" env:"PROFILE" usage:"TOML profile with the target settings (detected from the host if empty)"`
	Lockfile string `toml:"lockfile" env:"LOCKFILE" default:"testpkg.lock" usage:"Lockfile listing the available packages"`
	CacheDir string `toml:"cache_dir" env:"CACHE_DIR" usage:"Directory for downloaded packages and the stamps file"`
	CMake    struct {
		Program   string `toml:"program" env:"PROGRAM" default:"cmake" usage:"CMake executable"`
		Generator string `toml:"generator" env:"GENERATOR" usage:"CMake generator (picked from the compiler if empty)"`
		Jobs      int    `toml:"jobs" env:"JOBS" default:"0" usage:"Parallel build jobs (0 uses the number of CPUs)"`
	} `toml:"cmake" env:"CMAKE"`
	Log struct {
		Level string `toml:"level" env:"LEVEL" default:"info"`
		JSON  bool   `toml:"json" env:"JSON" default:"false" usage:"Output JSON lines instead of pretty console messages"`
	} `toml:"log" env:"LOG"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// An explicit file must exist, the default one is optional.
func Loader(file string) (*Config, *aconfig.Loader) {
	files := []string{DefaultFile}
	if file != "" {
		files = []string{file}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:          "TESTPKG",
		SkipFlags:          true,
		AllowUnknownEnvs:   true,
		FailOnFileNotFound: file != "",
		Files:              files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the config from file and the environment, applies overrides (if it's not nil)
// and validates the result
func Load(file string, overrides func(cfg *Config) error) (*Config, error) {
	cfg, loader := Loader(file)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if overrides != nil {
		err = overrides(cfg)
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.CMake.Jobs < 0 {
		return eris.Errorf(`Invalid value for cmake.jobs: %d (must be 0 or more)`, cfg.CMake.Jobs)
	}

	if cfg.Lockfile == "" {
		return eris.New(`Missing value for lockfile`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// Jobs returns the number of parallel build jobs
func (cfg *Config) Jobs() int {
	if cfg.CMake.Jobs == 0 {
		return runtime.NumCPU()
	}
	return cfg.CMake.Jobs
}

// PackageCache returns the directory downloaded packages are unpacked into
func (cfg *Config) PackageCache() (string, error) {
	if cfg.CacheDir != "" {
		return filepath.Abs(cfg.CacheDir)
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", eris.Wrap(err, "failed to determine the user cache directory")
	}
	return filepath.Join(base, "testpkg"), nil
}
