// Package config provides configuration management for WorldLog Companion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/graaaaa/worldlog-companion/internal/appinfo"
)

// EnvDataDir relocates the data directory, mainly for portable installs.
const EnvDataDir = "WORLDLOG_DATA_DIR"

// DataDir returns the directory holding config, secrets, the lock file and
// the event cache. In order of preference: $WORLDLOG_DATA_DIR,
// %LOCALAPPDATA%\worldlog on Windows, then os.UserConfigDir()/worldlog.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return filepath.Clean(dir), nil
	}
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("LOCALAPPDATA")
	}
	if base == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locate user config dir: %w", err)
		}
		base = dir
	}
	return filepath.Join(base, appinfo.DirName), nil
}

// EnsureDataDir returns DataDir after creating it with owner-only access.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir %q: %w", dir, err)
	}
	return dir, nil
}

func inDataDir(name string) (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPath returns the location of config.json.
func ConfigPath() (string, error) { return inDataDir(appinfo.ConfigFileName) }

// SecretsPath returns the location of secrets.json.
func SecretsPath() (string, error) { return inDataDir(appinfo.SecretsFileName) }

// DatabasePath returns the location of the SQLite event cache.
func DatabasePath() (string, error) { return inDataDir(appinfo.DatabaseFileName) }
