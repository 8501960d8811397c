// Package blobstore keeps uploaded evidence files and hands back the path
// clients use to fetch them.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"quickdowntime/internal/core/ports"
	"quickdowntime/pkg/config"
	"quickdowntime/pkg/storage"
)

// Store writes blobs to a storage backend under <folder>/<name>.
type Store struct {
	backend    storage.Storage
	publicBase string
}

// New returns a Store whose public references are publicBase/<folder>/<name>.
func New(backend storage.Storage, publicBase string) *Store {
	return &Store{
		backend:    backend,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

var _ ports.BlobStore = (*Store)(nil)

func (s *Store) Save(ctx context.Context, data []byte, folder, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("blob name is empty")
	}
	key := path.Join(folder, name)
	if err := s.backend.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return s.publicBase + "/" + key, nil
}

// FromConfig builds the blob store selected by storage.backend.
func FromConfig(ctx context.Context, c *config.Config) (*Store, error) {
	cfg := c.Storage
	switch cfg.Backend {
	case config.StorageS3:
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		backend := storage.NewS3Storage(client, cfg.S3.Bucket, cfg.S3.Prefix)
		base := cfg.S3.PublicURL
		if base == "" {
			base = "s3://" + path.Join(cfg.S3.Bucket, cfg.S3.Prefix)
		}
		return New(backend, base), nil

	default:
		backend, err := storage.NewFileStorage(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		return New(backend, cfg.PublicPrefix), nil
	}
}
