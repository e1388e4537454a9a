package storage

import (
	"context"
	"fmt"
	"time"

	"Bt1QMix/config"
	"Bt1QMix/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store keeps original audio files in a MinIO bucket so a library row can be
// restored when its local file is gone. Optional; nil Store means local-only.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and ensures the bucket exists.
func New(cfg *config.Config) (*Store, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("connected to MinIO",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return &Store{client: client, bucket: cfg.MinioBucket}, nil
}

// PutFile uploads a local file under the given object key.
func (s *Store) PutFile(ctx context.Context, objectKey, filePath, contentType string) error {
	if s == nil {
		return nil
	}
	_, err := s.client.FPutObject(ctx, s.bucket, objectKey, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectKey, err)
	}
	logger.Debug("object stored", logger.String("key", objectKey))
	return nil
}

// FetchToFile downloads an object to a local path.
func (s *Store) FetchToFile(ctx context.Context, objectKey, destPath string) error {
	if s == nil {
		return fmt.Errorf("object storage is not configured")
	}
	if err := s.client.FGetObject(ctx, s.bucket, objectKey, destPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", objectKey, err)
	}
	return nil
}

// Remove deletes an object.
func (s *Store) Remove(ctx context.Context, objectKey string) error {
	if s == nil {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", objectKey, err)
	}
	return nil
}
