// Package config loads the gpuflow command configuration from defaults,
// a YAML file and GPUFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gogpu/gpuflow"
)

// Config is the gpuflow command configuration.
type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Submit   SubmitConfig   `mapstructure:"submit"`
	Triangle TriangleConfig `mapstructure:"triangle"`
	Compute  ComputeConfig  `mapstructure:"compute"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// Retries is how many times a run is restarted on a fresh device
	// after the device was lost.
	Retries int `mapstructure:"retries"`
}

type DeviceConfig struct {
	Driver       string `mapstructure:"driver"`
	Adapter      string `mapstructure:"adapter"`
	MemoryBudget uint64 `mapstructure:"memory_budget"`
}

type SubmitConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TriangleConfig struct {
	Width  uint32 `mapstructure:"width"`
	Height uint32 `mapstructure:"height"`
	Output string `mapstructure:"output"`
}

type ComputeConfig struct {
	Count  uint32 `mapstructure:"count"`
	Factor uint32 `mapstructure:"factor"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Submit: SubmitConfig{
			MaxInFlight: gpuflow.DefaultMaxInFlight,
			Timeout:     10 * time.Second,
		},
		Triangle: TriangleConfig{Width: 1024, Height: 1024, Output: "triangle.png"},
		Compute:  ComputeConfig{Count: 64, Factor: 12},
		Logging:  LoggingConfig{Level: "warn"},
	}
}

// Load reads configuration from cfgFile, or config.yaml in $HOME/.gpuflow
// and the working directory when cfgFile is empty. A missing default file
// is not an error. v may carry flag bindings; nil uses a fresh instance.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gpuflow"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("GPUFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var validLevels = []string{"debug", "info", "warn", "error"}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	if c.Submit.MaxInFlight < 1 {
		return errors.New("submit.max_in_flight must be at least 1")
	}
	if c.Submit.Timeout <= 0 {
		return errors.New("submit.timeout must be positive")
	}
	if c.Triangle.Width == 0 || c.Triangle.Height == 0 {
		return errors.New("triangle.width and triangle.height must be positive")
	}
	if c.Triangle.Output == "" {
		return errors.New("triangle.output must be set")
	}
	if c.Compute.Count == 0 {
		return errors.New("compute.count must be positive")
	}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	return nil
}

// Level returns the slog level named by Logging.Level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelWarn
	}
	return l
}

// GPUConfig converts the device section into a gpuflow.Config.
func (c *Config) GPUConfig() gpuflow.Config {
	cfg := gpuflow.DefaultConfig()
	cfg.Driver = c.Device.Driver
	cfg.Adapter = c.Device.Adapter
	cfg.MemoryBudget = c.Device.MemoryBudget
	return cfg
}

// SubmitterConfig converts the submit section.
func (c *Config) SubmitterConfig() gpuflow.SubmitterConfig {
	return gpuflow.SubmitterConfig{MaxInFlight: c.Submit.MaxInFlight, Label: "gpuflow"}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("retries", cfg.Retries)

	v.SetDefault("device.driver", cfg.Device.Driver)
	v.SetDefault("device.adapter", cfg.Device.Adapter)
	v.SetDefault("device.memory_budget", cfg.Device.MemoryBudget)

	v.SetDefault("submit.max_in_flight", cfg.Submit.MaxInFlight)
	v.SetDefault("submit.timeout", cfg.Submit.Timeout)

	v.SetDefault("triangle.width", cfg.Triangle.Width)
	v.SetDefault("triangle.height", cfg.Triangle.Height)
	v.SetDefault("triangle.output", cfg.Triangle.Output)

	v.SetDefault("compute.count", cfg.Compute.Count)
	v.SetDefault("compute.factor", cfg.Compute.Factor)

	v.SetDefault("logging.level", cfg.Logging.Level)
}
