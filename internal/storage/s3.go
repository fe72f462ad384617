// Package storage moves files and model folders between S3 and local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/model"
)

// ErrUnsafeKey is returned for object keys that would be written outside
// the target directory.
var ErrUnsafeKey = errors.New("object key escapes target directory")

// S3API is the subset of the S3 client the file manager uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client builds an S3 client from cfg. Static keys are used when set;
// otherwise the default AWS credential chain applies. httpClient may be nil.
func NewS3Client(ctx context.Context, cfg model.S3Config, httpClient *http.Client) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle || cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// FileManager uploads and downloads objects.
type FileManager struct {
	client S3API
	logger logrus.FieldLogger
}

// NewFileManager wraps client.
func NewFileManager(client S3API, logger logrus.FieldLogger) *FileManager {
	return &FileManager{client: client, logger: logging.OrDiscard(logger)}
}

// Upload writes the local file to bucket/key.
func (m *FileManager) Upload(ctx context.Context, localPath, bucket, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	m.logger.WithFields(logrus.Fields{"bucket": bucket, "key": key}).Info("uploaded file")
	return nil
}

// Download writes bucket/key to localPath, creating parent directories.
func (m *FileManager) Download(ctx context.Context, bucket, key, localPath string) error {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := localPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		return fmt.Errorf("rename %s: %w", localPath, err)
	}
	m.logger.WithFields(logrus.Fields{"bucket": bucket, "key": key, "path": localPath}).Debug("downloaded file")
	return nil
}

// DownloadFolder copies every object under prefix into localDir, keeping
// the relative layout, and returns localDir. An empty localDir uses the
// prefix. When localDir already has files the download is skipped unless
// force is set, in which case the directory is cleared first.
func (m *FileManager) DownloadFolder(ctx context.Context, bucket, prefix, localDir string, force bool) (string, error) {
	if localDir == "" {
		localDir = filepath.FromSlash(strings.Trim(prefix, "/"))
	}

	if force {
		if err := os.RemoveAll(localDir); err != nil {
			return "", fmt.Errorf("clear %s: %w", localDir, err)
		}
		m.logger.WithField("dir", localDir).Info("cleared model directory for forced download")
	} else if nonEmpty(localDir) {
		m.logger.WithField("dir", localDir).Info("model directory is not empty, skipping download")
		return localDir, nil
	}

	count := 0
	pager := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			target, err := targetPath(localDir, prefix, key)
			if err != nil {
				return "", err
			}
			if err := m.Download(ctx, bucket, key, target); err != nil {
				return "", err
			}
			count++
		}
	}

	m.logger.WithFields(logrus.Fields{"dir": localDir, "files": count}).Info("model downloaded")
	return localDir, nil
}

// targetPath maps key below prefix to a path inside dir.
func targetPath(dir, prefix, key string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	if rel == "" {
		rel = filepath.Base(key)
	}
	target := filepath.Join(dir, filepath.FromSlash(rel))
	r, err := filepath.Rel(dir, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", key, ErrUnsafeKey)
	}
	return target, nil
}

func nonEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
