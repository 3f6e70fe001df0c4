// Package paths provides path management for different runtime environments.
// Supports development mode, binary mode, and installed mode.
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	basePath string
	dataPath string
	once     sync.Once
)

// IsBinaryMode returns true if running as a compiled binary (not go run).
func IsBinaryMode() bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	// go run creates temp binaries in /tmp or similar
	return !isInTempDir(exe)
}

func isInTempDir(path string) bool {
	tempDir := os.TempDir()
	return len(path) > len(tempDir) && path[:len(tempDir)] == tempDir
}

// GetBasePath returns the base path for the application.
// In dev mode: the working directory.
// In binary mode: the directory containing the executable.
func GetBasePath() string {
	once.Do(initPaths)
	return basePath
}

// GetDataPath returns the data directory path.
// Creates the directory if it doesn't exist.
func GetDataPath() string {
	once.Do(initPaths)
	return dataPath
}

// GetConfigPath returns the full path to the gateway's JSON config document.
// This is the thin, dev-mode stand-in for the real persistent config store,
// which is an external collaborator (see SPEC_FULL.md §4.11).
func GetConfigPath() string {
	if p := os.Getenv("LLM_GATEWAY_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(GetDataPath(), "gateway.json")
}

func initPaths() {
	if IsBinaryMode() {
		exe, _ := os.Executable()
		basePath = filepath.Dir(exe)
	} else {
		wd, _ := os.Getwd()
		basePath = wd
	}

	// Data path: check env var first, then default to data/ under base.
	if dp := os.Getenv("LLM_GATEWAY_DATA_DIR"); dp != "" {
		dataPath = dp
	} else {
		dataPath = filepath.Join(basePath, "data")
	}

	_ = os.MkdirAll(dataPath, 0755)
}
