package cli

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds optional defaults from ~/.config/upack/config.toml. Flags
// always override config values.
type Config struct {
	// Source is the default feed URL for commands taking --source.
	Source string `toml:"source"`

	// User is the default "username:password" credential pair.
	User string `toml:"user"`

	// Registry selects the default registry scope: "machine" or "user".
	Registry string `toml:"registry"`

	// Cache enables package caching by default.
	Cache bool `toml:"cache"`
}

// configPath returns the config file location using the XDG convention.
func configPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// readConfig loads the config file. A missing file yields an empty config.
func readConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return &Config{}, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	return &cfg, nil
}
