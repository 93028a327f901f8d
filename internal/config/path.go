// Package config loads and validates reconciliation settings.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a leading ~ to the home directory and expands
// environment variables.
func ExpandPath(path string) string {
	rest, found := strings.CutPrefix(path, "~")
	if found && (rest == "" || strings.HasPrefix(rest, "/")) {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + rest
		}
	}
	return os.ExpandEnv(path)
}

// DefaultDatabasePath places the database under $XDG_DATA_HOME, falling
// back to ~/.local/share.
func DefaultDatabasePath() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "reconcile", "reconcile.db"), nil
}
