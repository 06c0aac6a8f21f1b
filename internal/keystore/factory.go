package keystore

import (
	"context"
	"fmt"

	"luks-keeper/internal/config"
)

// NewBlobStoreFromConfig creates a BlobStore based on the keystore config type.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.KeyStoreConfig) (BlobStore, error) {
	switch cfg.Type {
	case "file", "":
		return NewFileSystemBlobStore(cfg.KeyDir)
	case "memory":
		return NewMemoryBlobStore(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 keystore requires s3_bucket to be set")
		}
		client, err := NewS3ClientFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3BlobStore(client, cfg.S3Bucket, cfg.S3Prefix), nil
	case "nostr", "ssh-agent", "tor", "multisig":
		return nil, fmt.Errorf("%s keystore not yet implemented", cfg.Type)
	default:
		return nil, fmt.Errorf("unknown keystore type: %s", cfg.Type)
	}
}
