package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory relative paths resolve against.
const HomeEnv = EnvPrefix + "_HOME"

// Paths holds the resolved file system locations the service writes to.
type Paths struct {
	BaseDir    string
	LogFile    string
	LedgerFile string
}

// ResolvePaths resolves relative paths in cfg against the base directory:
// SCHOLARPASS_HOME when set, otherwise the working directory.
func ResolvePaths(cfg *Config) (*Paths, error) {
	base := os.Getenv(HomeEnv)
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		base = wd
	}

	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &Paths{
		BaseDir:    abs,
		LogFile:    resolve(abs, cfg.Logging.FilePath),
		LedgerFile: resolve(abs, cfg.Ledger.FilePath),
	}, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// EnsureDir creates the parent directory of file.
func EnsureDir(file string) error {
	if file == "" {
		return nil
	}
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// FileExists reports whether path names an existing file.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
