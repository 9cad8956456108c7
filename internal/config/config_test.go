package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(1024), cfg.Triangle.Width)
	assert.Equal(t, "triangle.png", cfg.Triangle.Output)
	assert.Equal(t, uint32(64), cfg.Compute.Count)
	assert.Equal(t, uint32(12), cfg.Compute.Factor)
	assert.Equal(t, 16, cfg.Submit.MaxInFlight)
	assert.Equal(t, slog.LevelWarn, cfg.Level())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
retries: 2
device:
  driver: soft
  memory_budget: 1048576
submit:
  max_in_flight: 4
  timeout: 2s
triangle:
  width: 256
  height: 128
  output: out.bmp
logging:
  level: debug
`)
	cfg, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, "soft", cfg.Device.Driver)
	assert.Equal(t, uint64(1<<20), cfg.Device.MemoryBudget)
	assert.Equal(t, 4, cfg.Submit.MaxInFlight)
	assert.Equal(t, 2*time.Second, cfg.Submit.Timeout)
	assert.Equal(t, uint32(256), cfg.Triangle.Width)
	assert.Equal(t, uint32(128), cfg.Triangle.Height)
	assert.Equal(t, "out.bmp", cfg.Triangle.Output)
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	// Untouched sections keep their defaults.
	assert.Equal(t, uint32(12), cfg.Compute.Factor)

	gc := cfg.GPUConfig()
	assert.Equal(t, "soft", gc.Driver)
	assert.Equal(t, uint64(1<<20), gc.MemoryBudget)
	assert.Equal(t, 4, cfg.SubmitterConfig().MaxInFlight)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("GPUFLOW_DEVICE_ADAPTER", "llvmpipe")
	t.Setenv("GPUFLOW_COMPUTE_FACTOR", "7")

	cfg, err := Load(nil, writeConfig(t, "retries: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "llvmpipe", cfg.Device.Adapter)
	assert.Equal(t, uint32(7), cfg.Compute.Factor)
	assert.Equal(t, 1, cfg.Retries)
}

func TestLoad_Flags(t *testing.T) {
	v := viper.New()
	v.Set("retries", 3)

	cfg, err := Load(v, writeConfig(t, "retries: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retries)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"negative retries", "retries: -1\n", "retries"},
		{"zero in flight", "submit:\n  max_in_flight: 0\n", "max_in_flight"},
		{"zero width", "triangle:\n  width: 0\n", "triangle.width"},
		{"bad level", "logging:\n  level: chatty\n", "logging.level"},
		{"zero count", "compute:\n  count: 0\n", "compute.count"},
		{"malformed", "device: [\n", "reading config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(nil, writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
