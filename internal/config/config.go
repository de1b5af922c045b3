// Package config loads the inkpress configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the merged inkpress configuration.
type Config struct {
	Browser BrowserConfig `json:"browser"`
	// Site is the path to a site catalog TOML file. Empty uses the built-in
	// default catalog.
	Site string `json:"site"`
}

// BrowserConfig controls how the browser is located and launched.
type BrowserConfig struct {
	// Path overrides browser executable discovery.
	Path string `json:"path"`
	// ProfilesDir holds one subdirectory per named profile
	// (empty = ~/.inkpress/profiles).
	ProfilesDir string `json:"profilesDir"`
	// DefaultProfile is the profile used when none is given.
	DefaultProfile string `json:"defaultProfile"`
	Headless       bool   `json:"headless"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			DefaultProfile: "default",
			Headless:       false, // interactive login needs a window
		},
	}
}

// Load reads ~/.inkpress/inkpress.json over the defaults. A missing file is
// not an error.
func Load() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil
	}

	path := filepath.Join(home, ".inkpress", "inkpress.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveProfileDir returns the directory for a named profile, creating
// nothing. Empty name uses the configured default profile.
func (c *Config) ResolveProfileDir(name string) string {
	if name == "" {
		name = c.Browser.DefaultProfile
	}
	if name == "" {
		name = "default"
	}
	dir := c.Browser.ProfilesDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".inkpress", "profiles")
	}
	return filepath.Join(dir, name)
}
