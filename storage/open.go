package storage

import (
	"context"
	"fmt"

	"godeploy/config"
)

// Open builds the object store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "disk":
		return NewDiskStore(cfg.Dir)
	case "http":
		return NewHTTPStore(cfg.URL), nil
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
