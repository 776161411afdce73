// internal/storage/storage.go
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Storage publishes generated artifacts (narration audio, combined video) and
// returns the URL clients fetch them from.
// Swap the implementation in main.go; adapter and service code never changes.
type Storage interface {
	Upload(ctx context.Context, body io.Reader, filename, contentType string) (string, error)
}

// ── Local Storage ─────────────────────────────────────────────────────────────

type LocalStorage struct {
	Dir     string
	BaseURL string // e.g. "http://localhost:8083"
}

func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStorage{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, body io.Reader, filename, contentType string) (string, error) {
	// Random names keep user input out of the filesystem path.
	name := objectName(filename)

	dst, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, body); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("%s/artifacts/%s", s.BaseURL, name), nil
}

// ── S3 Storage ────────────────────────────────────────────────────────────────

type S3Storage struct {
	Bucket   string
	Region   string
	uploader *manager.Uploader
}

func NewS3Storage(ctx context.Context, bucket, region string) (*S3Storage, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Storage{
		Bucket:   bucket,
		Region:   region,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Storage) Upload(ctx context.Context, body io.Reader, filename, contentType string) (string, error) {
	key := path.Join("visualizations", objectName(filename))

	result, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return result.Location, nil
}

func objectName(filename string) string {
	return uuid.New().String() + strings.ToLower(filepath.Ext(filename))
}
