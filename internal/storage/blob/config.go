package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/datapilot/internal/platform/env"
	"github.com/animus-labs/datapilot/internal/platform/objectstore"
)

const (
	BackendMinIO = "minio"
	BackendGCS   = "gcs"
	BackendLocal = "local"
)

type Config struct {
	Backend            string
	Bucket             string
	LocalRoot          string
	GCSEmulatorHost    string
	GCSCredentialsFile string
	MinIO              objectstore.Config
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Backend:            strings.ToLower(env.String("DATAPILOT_BLOB_BACKEND", BackendMinIO)),
		LocalRoot:          env.String("DATAPILOT_BLOB_LOCAL_ROOT", "./data/blobs"),
		GCSEmulatorHost:    env.String("DATAPILOT_GCS_EMULATOR_HOST", ""),
		GCSCredentialsFile: env.String("DATAPILOT_GCS_CREDENTIALS_FILE", ""),
	}
	switch cfg.Backend {
	case BackendMinIO:
		minioCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return Config{}, fmt.Errorf("minio config: %w", err)
		}
		cfg.MinIO = minioCfg
		cfg.Bucket = minioCfg.BucketVersions
	case BackendGCS:
		cfg.Bucket = env.String("DATAPILOT_GCS_BUCKET", "data-versions")
	case BackendLocal:
		cfg.Bucket = env.String("DATAPILOT_BLOB_BUCKET", "data-versions")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMinIO, BackendGCS:
	case BackendLocal:
		if strings.TrimSpace(c.LocalRoot) == "" {
			return errors.New("local blob root is required")
		}
	default:
		return fmt.Errorf("unsupported blob backend %q", c.Backend)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("blob bucket is required")
	}
	return nil
}

// Open builds the configured backend and makes sure the bucket is usable.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMinIO:
		client, err := objectstore.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		if err := objectstore.EnsureBucket(ctx, client, cfg.MinIO); err != nil {
			return nil, err
		}
		return NewMinioStore(client)
	case BackendGCS:
		client, err := NewGCSClient(ctx, cfg.GCSEmulatorHost, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return NewGCSStore(client)
	default:
		return NewLocalStore(cfg.LocalRoot)
	}
}
