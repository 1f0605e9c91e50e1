package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_SearchOrder(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".detbench.yaml"), []byte("seed: 7\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "detbench.yml"), []byte("seed: 5\nnum_epochs: 3\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.Seed)
	assert.Equal(t, 3, cfg.NumEpochs)
	assert.Equal(t, 128, cfg.BatchSize)
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: cpu\nlayers: [1, 1]\nxlsx: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, []int{1, 1}, cfg.Layers)
	assert.False(t, cfg.XLSX)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_BadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seed: [\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "detbench.yaml"), []byte("seed: 1\nbatch_size: 64\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DETBENCH_OUTPUT_DIR=from-dotenv\nDETBENCH_SEED=9\n"), 0o644))
	t.Setenv("DETBENCH_SEED", "42")
	t.Setenv("DETBENCH_EPOCHS", "2")
	t.Setenv("DETBENCH_DEVICE", "accel:1")
	t.Cleanup(func() { os.Unsetenv("DETBENCH_OUTPUT_DIR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 2, cfg.NumEpochs)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, "accel:1", cfg.Device)
	assert.Equal(t, "from-dotenv", cfg.OutputDir)
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(func(key string) (string, bool) {
		if key == "DETBENCH_EPOCHS" {
			return "many", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "DETBENCH_EPOCHS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative seed", func(c *Config) { c.Seed = -1 }, "seed"},
		{"zero epochs", func(c *Config) { c.NumEpochs = 0 }, "num_epochs"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"fraction one", func(c *Config) { c.ValidationFraction = 1 }, "validation_fraction"},
		{"zero interval", func(c *Config) { c.LoggingInterval = 0 }, "logging_interval"},
		{"single verify run", func(c *Config) { c.VerifyRuns = 1 }, "verify_runs"},
		{"negative layer", func(c *Config) { c.Layers = []int{1, -2} }, "layers[1]"},
		{"empty device", func(c *Config) { c.Device = " " }, "device"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = -1
	cfg.BatchSize = -3
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed")
	assert.Contains(t, err.Error(), "batch_size")
}
