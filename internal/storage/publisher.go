package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"wrdspanel/internal/config"
)

// ErrDisabled is returned by NewPublisher when publishing is turned off.
var ErrDisabled = errors.New("storage publishing is disabled")

// Publisher uploads the files of a run and returns their object keys.
type Publisher interface {
	Publish(ctx context.Context, runID string, files []string) ([]string, error)
}

// objectClient is the part of *minio.Client the publisher needs.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioPublisher writes outputs to <prefix>/<run-id>/<file name>.
type MinioPublisher struct {
	client objectClient
	bucket string
	prefix string
	logger *slog.Logger
}

// NewPublisher connects to the configured endpoint. It returns ErrDisabled
// when storage is not enabled.
func NewPublisher(cfg config.StorageConfig, logger *slog.Logger) (*MinioPublisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return newMinioPublisher(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newMinioPublisher(client objectClient, bucket, prefix string, logger *slog.Logger) *MinioPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MinioPublisher{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With(slog.String("component", "storage"), slog.String("bucket", bucket)),
	}
}

// Publish creates the bucket when missing and uploads every file. It stops
// at the first failed upload.
func (p *MinioPublisher) Publish(ctx context.Context, runID string, files []string) ([]string, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		key := ObjectKey(p.prefix, runID, file)
		info, err := p.client.FPutObject(ctx, p.bucket, key, file, minio.PutObjectOptions{
			ContentType: ContentType(file),
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "upload failed",
				slog.String("file", file),
				slog.String("key", key),
				slog.String("error", err.Error()))
			return keys, fmt.Errorf("upload %s: %w", filepath.Base(file), err)
		}
		p.logger.DebugContext(ctx, "uploaded",
			slog.String("key", key),
			slog.Int64("bytes", info.Size))
		keys = append(keys, key)
	}

	p.logger.InfoContext(ctx, "published outputs",
		slog.String("run_id", runID),
		slog.Int("objects", len(keys)))
	return keys, nil
}

func (p *MinioPublisher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	p.logger.InfoContext(ctx, "created bucket")
	return nil
}

// ObjectKey builds the object name of a file published by a run.
func ObjectKey(prefix, runID, file string) string {
	return path.Join(prefix, runID, filepath.Base(file))
}

// ContentType maps output extensions to MIME types.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case config.ExtCSV:
		return "text/csv"
	case config.ExtStata:
		return "application/x-stata-dta"
	case config.ExtExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".json":
		return "application/json"
	case ".txt", ".tex":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
