package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/datapilot/internal/platform/env"
)

const (
	defaultImage     = "datapilot/sandbox-polars:py3.11"
	defaultTimeout   = 30 * time.Second
	defaultMemory    = "2g"
	defaultCPUs      = 1.0
	defaultPids      = 64
	defaultTmpfsSize = "100m"
)

type Config struct {
	Image       string
	DockerBin   string
	Timeout     time.Duration
	MemoryLimit string
	CPULimit    float64
	PidsLimit   int
	TmpfsSize   string
	PolicyFile  string
	ScratchDir  string
}

func DefaultConfig() Config {
	return Config{
		Image:       defaultImage,
		DockerBin:   "docker",
		Timeout:     defaultTimeout,
		MemoryLimit: defaultMemory,
		CPULimit:    defaultCPUs,
		PidsLimit:   defaultPids,
		TmpfsSize:   defaultTmpfsSize,
	}
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("SANDBOX_TIMEOUT", defaultTimeout)
	if err != nil {
		return Config{}, err
	}
	cpus, err := env.Float("SANDBOX_CPU_LIMIT", defaultCPUs)
	if err != nil {
		return Config{}, err
	}
	pids, err := env.Int("SANDBOX_PIDS_LIMIT", defaultPids)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Image:       env.String("SANDBOX_IMAGE", defaultImage),
		DockerBin:   env.String("SANDBOX_DOCKER_BIN", "docker"),
		Timeout:     timeout,
		MemoryLimit: env.String("SANDBOX_MEMORY_LIMIT", defaultMemory),
		CPULimit:    cpus,
		PidsLimit:   pids,
		TmpfsSize:   env.String("SANDBOX_TMPFS_SIZE", defaultTmpfsSize),
		PolicyFile:  env.String("SANDBOX_POLICY_FILE", ""),
		ScratchDir:  env.String("SANDBOX_SCRATCH_DIR", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Image) == "" {
		return errors.New("sandbox image is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("sandbox timeout must be positive, got %s", c.Timeout)
	}
	if strings.TrimSpace(c.MemoryLimit) == "" {
		return errors.New("sandbox memory limit is required")
	}
	if c.CPULimit <= 0 {
		return fmt.Errorf("sandbox cpu limit must be positive, got %g", c.CPULimit)
	}
	if c.PidsLimit <= 0 {
		return fmt.Errorf("sandbox pids limit must be positive, got %d", c.PidsLimit)
	}
	if strings.TrimSpace(c.TmpfsSize) == "" {
		return errors.New("sandbox tmpfs size is required")
	}
	return nil
}
