package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "notectl"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "tokens.json"
)

// DefaultConfigPath returns the config file location, honoring the
// NOTECTL_CONFIG override.
func DefaultConfigPath() string {
	if env := os.Getenv("NOTECTL_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName, defaultConfigFile)
}

// DefaultTokenPath returns the token cache location, user-scoped.
func DefaultTokenPath() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultTokenFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName, defaultTokenFile)
}
