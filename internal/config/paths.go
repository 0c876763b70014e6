package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".bizagent"

// Paths holds resolved filesystem paths for bizagent data.
type Paths struct {
	Base   string // ~/.bizagent
	Config string // ~/.bizagent/config.yaml
	Logs   string // ~/.bizagent/logs
	Data   string // ~/.bizagent/data
}

// ResolvePaths computes all standard paths from the home directory.
// If BIZAGENT_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("BIZAGENT_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the SQLite file path, honoring storage.path.
func (p Paths) DatabasePath(cfg StorageConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "bizagent.db")
}
