package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
profile = "profiles/linux.toml"
lockfile = "deps.lock"

[cmake]
generator = "Ninja"
jobs = 3

[log]
level = "debug"
`), 0o600))

	cfg, err := Load(file, nil)
	require.NoError(t, err)

	assert.Equal(t, "profiles/linux.toml", cfg.Profile)
	assert.Equal(t, "deps.lock", cfg.Lockfile)
	assert.Equal(t, "Ninja", cfg.CMake.Generator)
	assert.Equal(t, "cmake", cfg.CMake.Program)
	assert.Equal(t, 3, cfg.Jobs())
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("TESTPKG_LOCKFILE", "env.lock")
	t.Setenv("TESTPKG_LOG_LEVEL", "warn")

	file := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(file, []byte("\n"), 0o600))

	cfg, err := Load(file, nil)
	require.NoError(t, err)
	assert.Equal(t, "env.lock", cfg.Lockfile)
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel())
}

func TestLoadOverrides(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(file, []byte("lockfile = \"deps.lock\"\n"), 0o600))

	cfg, err := Load(file, func(cfg *Config) error {
		cfg.Lockfile = "flag.lock"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "flag.lock", cfg.Lockfile)

	_, err = Load(file, func(cfg *Config) error {
		cfg.Log.Level = "verbose"
		return nil
	})
	assert.Error(t, err)

	_, err = Load(file, func(cfg *Config) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
		valid  bool
	}{
		{name: "defaults", modify: func(cfg *Config) {}, valid: true},
		{name: "bad log level", modify: func(cfg *Config) { cfg.Log.Level = "verbose" }},
		{name: "negative jobs", modify: func(cfg *Config) { cfg.CMake.Jobs = -1 }},
		{name: "no lockfile", modify: func(cfg *Config) { cfg.Lockfile = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Lockfile: "testpkg.lock"}
			cfg.Log.Level = "info"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestJobsAndCache(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, runtime.NumCPU(), cfg.Jobs())

	dir := t.TempDir()
	cfg.CacheDir = dir
	cache, err := cfg.PackageCache()
	require.NoError(t, err)
	assert.Equal(t, dir, cache)
}
