// Package objectstore keeps generated campaign assets in an S3 compatible bucket.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/brandpilot/backend/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"k8s.io/klog/v2"
)

// Store uploads an object and returns a URL clients can fetch it from.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) (string, error)
}

type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration

	mu          sync.Mutex
	bucketReady bool
}

// NewMinioStore returns nil, nil when no endpoint is configured.
func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	klog.V(6).Infof("[ObjectStore] minio client ready: endpoint=%s, bucket=%s", cfg.Endpoint, cfg.Bucket)
	return &MinioStore{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		klog.V(6).Infof("[ObjectStore] bucket created: %s", s.bucket)
	}
	s.bucketReady = true
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: ContentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func ContentType(key string) string {
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
