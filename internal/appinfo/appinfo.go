// Package appinfo provides application identity constants.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "WorldLog Companion"

	// DirName is the directory name used for storing application data.
	// Location: %LOCALAPPDATA%/worldlog/ (Windows) or ~/.config/worldlog/ (other)
	DirName = "worldlog"

	// LockFileName is the lock file name for single instance control.
	LockFileName = "worldlog.lock"

	// ConfigFileName is the configuration file name.
	ConfigFileName = "config.json"

	// SecretsFileName is the secrets file name.
	SecretsFileName = "secrets.json"

	// DatabaseFileName is the SQLite event cache file name.
	DatabaseFileName = "worldlog-cache.sqlite"

	// ServiceName identifies the process in traces and metrics.
	ServiceName = "worldlog-companion"
)
