package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDir returns the configuration directory. IMBRIDGE_CONFIG_DIR
// overrides the platform default.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/imbridge/
//   - Linux:   $XDG_CONFIG_HOME/imbridge/ or ~/.config/imbridge/
func ConfigDir() string {
	if dir := os.Getenv("IMBRIDGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "imbridge")
	default:
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
}

// StateDir returns the directory for logs and other state.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/imbridge/
//   - Linux:   $XDG_STATE_HOME/imbridge/ or ~/.local/state/imbridge/
func StateDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", "imbridge")
	default:
		return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
	}
}

func xdgDir(env, fallback string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, "imbridge")
	}
	return filepath.Join(homeDir(), fallback, "imbridge")
}

func homeDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return home
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. Current directory
	// 2. Config directory
	for _, dir := range []string{".", ConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "imbridge."+ext)
			if dir != "." {
				path = filepath.Join(dir, "config."+ext)
			}
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// RunsPath returns the default database for recorded replay runs.
func RunsPath() string {
	return filepath.Join(StateDir(), "runs.db")
}
