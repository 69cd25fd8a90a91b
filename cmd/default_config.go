package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/photo3d/photo3d/accel"
	"github.com/photo3d/photo3d/handler"
)

const (
	configFileName = "photo3d.yaml"
	homeConfigDir  = ".photo3d"
	homeConfigFile = "config.yaml"
	configVersion  = "1"
)

// Config represents the full photo3d.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Version     string            `yaml:"version"`
	Accelerator AcceleratorConfig `yaml:"accelerator"`
	Handler     handler.Config    `yaml:"handler"`
}

// AcceleratorConfig holds the ML runtime environment applied before conversion.
type AcceleratorConfig struct {
	CUDAVisibleDevices string `yaml:"cuda_visible_devices"` // empty leaves CUDA_VISIBLE_DEVICES alone
}

func defaultConfig() Config {
	return Config{
		Version: configVersion,
		Handler: handler.DefaultConfig(),
	}
}

// Validate checks the loaded configuration.
func (c Config) Validate() error {
	if c.Version != "" && c.Version != configVersion {
		return fmt.Errorf("unsupported config version %q; want %q", c.Version, configVersion)
	}
	if _, err := accel.ParseDeviceList(c.Accelerator.CUDAVisibleDevices); err != nil {
		return fmt.Errorf("accelerator: %w", err)
	}
	if err := c.Handler.Validate(); err != nil {
		return fmt.Errorf("handler: %w", err)
	}
	return nil
}

// loadConfig parses photo3d.yaml on top of the built-in defaults.
// Uses strict field checking: typos must cause errors. An empty path returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveConfigPath returns the config file to use. Priority:
// 1. Explicit --config flag (non-empty)
// 2. ./photo3d.yaml (if it exists)
// 3. <home>/.photo3d/config.yaml (if it exists)
// 4. "" (built-in defaults)
func resolveConfigPath(explicit, home string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName
	}
	if home != "" {
		homeConfig := filepath.Join(home, homeConfigDir, homeConfigFile)
		if _, err := os.Stat(homeConfig); err == nil {
			return homeConfig
		}
	}
	return ""
}

// userHome returns the user's home directory, or "" when it cannot be determined.
func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
// Variables already set in the environment win over the file.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}
