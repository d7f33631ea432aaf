package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory, mostly for tests and containers.
const HomeEnv = "DMSYNC_HOME"

// BaseDir returns $DMSYNC_HOME, or ~/.dmsync.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dmsync")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the control socket of a running client.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "dmd.sock")
}

// LockPath returns the lock file that keeps one client per session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// ArchivePath returns the SQLite archive of conversations and messages.
func ArchivePath(name string) string {
	return filepath.Join(Dir(name), "archive.db")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "logs", "dmd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree owner-only.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), filepath.Dir(LogPath(name))} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
