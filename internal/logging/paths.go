package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the global log directory (~/.loreweave/logs),
// used when no project data directory is available. Falls back to the
// temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".loreweave", "logs")
	}
	return filepath.Join(home, ".loreweave", "logs")
}

// DefaultLogPath returns the global server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// ServerLogPath returns the server log file inside the given log
// directory, or the global default when dir is empty.
func ServerLogPath(dir string) string {
	if dir == "" {
		return DefaultLogPath()
	}
	return filepath.Join(dir, "server.log")
}

// FindLogFile locates a log file for viewing. An explicit path wins;
// otherwise the candidates are tried in order, ending with the global
// default path.
func FindLogFile(explicit string, candidates ...string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	checked := append([]string{}, candidates...)
	checked = append(checked, DefaultLogPath())
	for _, path := range checked {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no log file found. The server may not have run yet.\nChecked: %v", checked)
}

// RotatedLogFiles returns the active log plus its rotated siblings,
// oldest first, so a merged tail reads chronologically.
func RotatedLogFiles(path string) []string {
	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		matches = nil
	}

	// Rotation numbers grow with age: server.log.1 is newer than .2.
	var files []string
	for i := len(matches); i >= 1; i-- {
		candidate := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(candidate); err == nil {
			files = append(files, candidate)
		}
	}
	if _, err := os.Stat(path); err == nil {
		files = append(files, path)
	}
	return files
}
