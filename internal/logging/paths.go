package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.amanrag/logs, or a temp directory when the home
// directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "logs")
	}
	return filepath.Join(home, ".amanrag", "logs")
}

// DefaultLogPath returns the debug log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amanrag.log")
}

// FindLogFile resolves the log file to show, preferring an explicit path.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return "", fmt.Errorf("no log file found, run a command with --debug first (expected at %s)", path)
	}
	return path, nil
}
