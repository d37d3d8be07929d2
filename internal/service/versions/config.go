package versions

import (
	"fmt"

	"github.com/animus-labs/datapilot/internal/platform/env"
)

const (
	defaultMaxVersionsPerProject = 100
	// DefaultKeepCount is the prune keep count used when callers pass none.
	DefaultKeepCount = 50
)

type Config struct {
	// MaxVersionsPerProject triggers retention pruning after a create once a
	// project exceeds it. Zero disables retention.
	MaxVersionsPerProject int
	// ScratchDir holds temporary checkouts. Empty means os.TempDir.
	ScratchDir string
}

func ConfigFromEnv() (Config, error) {
	maxVersions, err := env.Int("MAX_VERSIONS_PER_PROJECT", defaultMaxVersionsPerProject)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		MaxVersionsPerProject: maxVersions,
		ScratchDir:            env.String("DATAPILOT_SCRATCH_DIR", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxVersionsPerProject < 0 {
		return fmt.Errorf("max versions per project must be >= 0, got %d", c.MaxVersionsPerProject)
	}
	return nil
}
