package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Settings locates an S3-compatible bucket.
type S3Settings struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

// Enabled reports whether enough is set to talk to a bucket.
func (s S3Settings) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != "" && strings.TrimSpace(s.Bucket) != ""
}

// S3Sink uploads exports to a bucket.
type S3Sink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Sink connects to the bucket, creating it when missing.
func NewS3Sink(ctx context.Context, settings S3Settings) (*S3Sink, error) {
	client, err := minio.New(settings.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(settings.AccessKeyID, settings.SecretAccessKey, ""),
		Secure: settings.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("export: create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, settings.Bucket)
	if err != nil {
		return nil, fmt.Errorf("export: check bucket %s: %w", settings.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, settings.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("export: create bucket %s: %w", settings.Bucket, err)
		}
	}
	return &S3Sink{
		client: client,
		bucket: settings.Bucket,
		prefix: strings.Trim(settings.Prefix, "/"),
	}, nil
}

// Save uploads data under prefix/name and returns the s3:// location.
func (s *S3Sink) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := SafeName(name)
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("export: upload %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
