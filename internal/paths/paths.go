// Package paths resolves configuration and data directory locations.
//
// A project is local when $(CWD) holds a .recnav or .recnav-db directory;
// both its config and its database then live next to it. Otherwise the
// platform directories are used.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// CWD-relative directory names.
const (
	DefaultConfigDirName = ".recnav"
	DefaultDataDirName   = ".recnav-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "RECNAV_CONFIG_DIR"
	EnvDataDir   = "RECNAV_DATA_DIR"
)

const appName = "recnav"

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// appDir returns the recnav directory under $xdgEnv, or under home/linuxHome
// when the variable is unset. Outside Linux it is the user config dir.
func appDir(xdgEnv string, linuxHome ...string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, linuxHome...), appName)...), nil
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/recnav (fallback ~/.config/recnav)
// macOS:   ~/Library/Application Support/recnav
// Windows: %APPDATA%/recnav
func DefaultConfigDir() (string, error) {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/recnav (fallback ~/.local/share/recnav)
// macOS and Windows: same as DefaultConfigDir.
func DefaultDataDir() (string, error) {
	return appDir("XDG_DATA_HOME", ".local", "share")
}

// firstAbs returns the first non-empty candidate made absolute.
func firstAbs(candidates ...string) (string, bool, error) {
	for _, c := range candidates {
		if c != "" {
			abs, err := filepath.Abs(c)
			return abs, true, err
		}
	}
	return "", false, nil
}

// localProject reports whether cwd holds a .recnav or .recnav-db directory.
func localProject(cwd string) bool {
	for _, name := range []string{DefaultConfigDirName, DefaultDataDirName} {
		if info, err := os.Stat(filepath.Join(cwd, name)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > RECNAV_CONFIG_DIR env > $(CWD)/.recnav for a local
// project > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if dir, ok, err := firstAbs(flag, os.Getenv(EnvConfigDir)); ok {
		return dir, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if localProject(cwd) {
		return filepath.Join(cwd, DefaultConfigDirName), nil
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > data_dir of config.yaml > RECNAV_DATA_DIR env > $(CWD)/.recnav-db
// for a local project > DefaultDataDir().
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	if dir, ok, err := firstAbs(flag, configYAMLValue, os.Getenv(EnvDataDir)); ok {
		return dir, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if localProject(cwd) {
		return filepath.Join(cwd, DefaultDataDirName), nil
	}
	return DefaultDataDir()
}
