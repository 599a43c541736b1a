// Package archive uploads finished run directories to S3-compatible object
// storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
)

// objectStore is the subset of *minio.Client the archiver needs.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archiver struct {
	client objectStore
	bucket string
	prefix string
	logger *slog.Logger
}

// New returns nil when archiving is disabled.
func New(cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("archive endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage client: %w", err)
	}
	return newArchiver(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newArchiver(client objectStore, bucket, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(slog.String("component", "archive")),
	}
}

// ObjectName maps a file inside a run directory to its object key.
func (a *Archiver) ObjectName(runID, rel string) string {
	parts := []string{runID, filepath.ToSlash(rel)}
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Upload copies the files of dir to <prefix>/<runID>/ and returns the
// number of objects written. Subdirectories hold other runs and are skipped.
func (a *Archiver) Upload(ctx context.Context, runID, dir string) (int, error) {
	if a == nil {
		return 0, nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return 0, fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return 0, fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
		a.logger.Info("bucket created", slog.String("bucket", a.bucket))
	}

	uploaded := 0
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		object := a.ObjectName(runID, rel)
		if _, err := a.client.FPutObject(ctx, a.bucket, object, p, minio.PutObjectOptions{
			ContentType: contentType(p),
		}); err != nil {
			return fmt.Errorf("upload %s: %w", object, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, err
	}
	a.logger.Info("run archived",
		slog.String("run_id", runID),
		slog.String("bucket", a.bucket),
		slog.Int("objects", uploaded))
	return uploaded, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
