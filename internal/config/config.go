// Package config loads the daemon's on-disk YAML configuration: read,
// unmarshal, fall back to defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon's runtime tunables.
type Config struct {
	ConfigVersion        int    `yaml:"config_version"`
	SocketPath           string `yaml:"socket_path"`
	DataDir              string `yaml:"data_dir"`
	InputRoot            string `yaml:"input_root"`
	MultiplexTimeoutMS   int    `yaml:"multiplex_timeout_ms"`
	SocketRecvTimeoutMS  int    `yaml:"socket_recv_timeout_ms"`
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors"`
}

// Defaults returns the built-in configuration, used when no file is present
// and as the base onto which a loaded file's fields are layered.
func Defaults() Config {
	return Config{
		ConfigVersion:        LatestVersion,
		SocketPath:           "/var/lib/hawck-input/kbd.sock",
		DataDir:              "./",
		InputRoot:            "/dev/input",
		MultiplexTimeoutMS:   64,
		SocketRecvTimeoutMS:  1000,
		MaxConsecutiveErrors: 30,
	}
}

// PassthroughDir is the directory of passthrough-key CSV files.
func (c Config) PassthroughDir() string {
	return filepath.Join(c.DataDir, "passthrough_keys")
}

// Dir returns the config directory, resolved against XDG_CONFIG_HOME
// with a fallback under the user's home directory.
func Dir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "hawck-inputd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "hawck-inputd")
}

// Load reads the config file at path, applying it on top of Defaults(). A
// missing file is not an error; the defaults are returned unmodified.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}
