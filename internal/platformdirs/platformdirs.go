// Package platformdirs locates the platform-appropriate cache, data, and
// state directories pyflow uses for the wheel cache, managed Python
// interpreters, and other persistent state outside any single project
// (§4.7), generalized from the wheel cache's own directory logic.
package platformdirs

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "pyflow"

// CacheDir returns the directory for disposable, re-fetchable data (the
// wheel/sdist cache). Priority: PYFLOW_CACHE_DIR env var, then platform
// default.
func CacheDir() string {
	if dir := os.Getenv("PYFLOW_CACHE_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, "cache")
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", appName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName, "Cache")
		}

		return filepath.Join(home, "AppData", "Local", appName, "Cache")
	default:
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".cache", appName)
	}
}

// DataDir returns the directory for durable data that can't be re-derived:
// managed Python interpreter installs. Priority: PYFLOW_DATA_DIR env var,
// then platform default.
func DataDir() string {
	if dir := os.Getenv("PYFLOW_DATA_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, "data")
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName)
		}

		return filepath.Join(home, "AppData", "Local", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".local", "share", appName)
	}
}

// InterpretersDir returns the directory managed Python interpreter
// installations are unpacked into, under DataDir.
func InterpretersDir() string {
	return filepath.Join(DataDir(), "interpreters")
}
