// Package xdg provides XDG Base Directory Specification compliant paths
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "orchestra"

func dir(envVar string, fallback ...string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, appName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	parts := append([]string{homeDir}, fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// ConfigDir returns the XDG config directory for orchestra
// Priority: XDG_CONFIG_HOME > ~/.config/orchestra
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for orchestra
// Priority: XDG_DATA_HOME > ~/.local/share/orchestra
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the XDG state directory for orchestra
// Priority: XDG_STATE_HOME > ~/.local/state/orchestra
func StateDir() (string, error) {
	return dir("XDG_STATE_HOME", ".local", "state")
}
