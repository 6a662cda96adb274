// Package paths resolves platform-specific directories for bookforge,
// honoring the XDG base directory variables when set.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDir returns the config directory for bookforge.
// Order: XDG_CONFIG_HOME/bookforge, platform-specific fallback.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bookforge")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "Bookforge")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bookforge")
}

// DataDir returns the data directory for bookforge.
// Order: XDG_DATA_HOME/bookforge, platform-specific fallback.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "bookforge")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "Bookforge")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "bookforge")
}

// CacheDir returns the cache directory for bookforge.
// Order: XDG_CACHE_HOME/bookforge, platform-specific fallback.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "bookforge")
	}
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LocalAppData"); localAppData != "" {
			return filepath.Join(localAppData, "Bookforge", "Cache")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "bookforge")
}
