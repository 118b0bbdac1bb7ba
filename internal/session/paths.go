package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.socially.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".socially")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the local cache database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "socially.db")
}

// ProfilePath returns the profile credentials file path.
func ProfilePath(name string) string {
	return filepath.Join(Dir(name), "profile.toml")
}

// MediaDir returns the directory where outgoing media is copied so that a
// queued upload can still read it after a process restart.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "sociallyd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		MediaDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
