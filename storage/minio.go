package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"MixStudio/config"
	"MixStudio/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror copies a stored audio file to object storage.
type Mirror interface {
	MirrorFile(ctx context.Context, localPath, objectKey string) error
}

// MinioStore 封装 MinIO 客户端与目标存储桶
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinioStore builds a client from cfg. It does not touch the network.
func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.MinioBucket, region: cfg.MinioRegion}, nil
}

// Bucket returns the configured bucket name.
func (s *MinioStore) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		logger.Info("[MinIO] Bucket ready", logger.String("bucket", s.bucket))
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	logger.Info("[MinIO] Bucket created", logger.String("bucket", s.bucket))
	return nil
}

// MirrorFile uploads localPath under objectKey.
func (s *MinioStore) MirrorFile(ctx context.Context, localPath, objectKey string) error {
	info, err := s.client.FPutObject(ctx, s.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType: ContentTypeFor(localPath),
	})
	if err != nil {
		return fmt.Errorf("mirror %s to %s/%s: %w", localPath, s.bucket, objectKey, err)
	}
	logger.Debug("[MinIO] File mirrored",
		logger.String("key", objectKey),
		logger.Int64("size", info.Size))
	return nil
}

// ObjectKey maps a stored file path to its key in the bucket, e.g.
// "uploads/audio-1.wav" -> "uploads/audio-1.wav" regardless of OS separators.
func ObjectKey(storedPath string) string {
	key := filepath.ToSlash(filepath.Clean(storedPath))
	key = strings.TrimLeft(key, "/")
	return path.Clean(strings.TrimPrefix(key, "./"))
}

// ContentTypeFor guesses an audio MIME type from the file extension.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".aiff", ".aif":
		return "audio/aiff"
	default:
		return "application/octet-stream"
	}
}
