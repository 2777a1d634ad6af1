// File: internal/infra/adapters/storage/minio_storage.go
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vidfab-pipeline/internal/config"
	"vidfab-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.DurableStorage = (*MinioStorage)(nil)

// MinioStorage implements adapter.DurableStorage on an S3-compatible bucket.
// Objects are addressed by destPath and served from PublicBaseURL, which
// fronts the bucket with a CDN in production.
type MinioStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
	httpCli *http.Client
}

func NewMinioStorage(ctx context.Context, cfg *config.StorageConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("storage endpoint or bucket empty")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		httpCli: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (s *MinioStorage) FetchAndStore(ctx context.Context, externalURL, destPath string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, externalURL, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := s.httpCli.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("fetch %s: http %d", externalURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFor(destPath)
	}
	// ContentLength may be -1; minio streams in parts in that case.
	info, err := s.client.PutObject(ctx, s.bucket, destPath, resp.Body, resp.ContentLength,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", 0, fmt.Errorf("store %s: %w", destPath, err)
	}
	return s.urlFor(destPath), info.Size, nil
}

func (s *MinioStorage) Upload(ctx context.Context, data []byte, destPath, contentType string) (string, error) {
	if contentType == "" {
		contentType = contentTypeFor(destPath)
	}
	_, err := s.client.PutObject(ctx, s.bucket, destPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("store %s: %w", destPath, err)
	}
	return s.urlFor(destPath), nil
}

func (s *MinioStorage) Delete(ctx context.Context, path string) error {
	return s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
}

func (s *MinioStorage) urlFor(destPath string) string {
	return s.baseURL + "/" + strings.TrimLeft(destPath, "/")
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
