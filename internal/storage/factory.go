package storage

import (
	"context"
	"fmt"

	"github.com/ekrata/echomimic-v2/internal/adapters/storage/gdrive"
	"github.com/ekrata/echomimic-v2/internal/adapters/storage/localfs"
	"github.com/ekrata/echomimic-v2/internal/adapters/storage/s3store"
	"github.com/ekrata/echomimic-v2/internal/config"
)

// NewProvider builds the provider selected by STORAGE_PROVIDER.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "s3":
		return s3store.New(ctx, s3store.Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})

	case "localfs":
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return gdrive.New(ctx, gdrive.Options{
			ClientID:     cfg.GDriveClientID,
			ClientSecret: cfg.GDriveClientSecret,
			RefreshToken: cfg.GDriveRefreshToken,
			FolderID:     cfg.GDriveFolderID,
		})

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
