// Package evidence stores proof-of-receipt files in S3-compatible object storage.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrEmptyFile indicates an upload without content.
var ErrEmptyFile = errors.New("evidence: empty file")

// File is an uploaded file ready to be stored.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Config configures the object store connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes returned object URLs; defaults to the endpoint.
	PublicURL string
}

// ObjectAPI is the subset of the MinIO client the store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Store uploads evidence files.
type Store struct {
	client    ObjectAPI
	bucket    string
	publicURL string
}

// New connects to the configured endpoint.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: connect: %w", err)
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}
	return NewStore(client, cfg.Bucket, publicURL), nil
}

// NewStore wraps an existing client.
func NewStore(client ObjectAPI, bucket, publicURL string) *Store {
	return &Store{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("evidence: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("evidence: make bucket: %w", err)
	}
	return nil
}

// Upload stores f under dir with a unique object name and returns its URL.
func (s *Store) Upload(ctx context.Context, f File, dir string) (string, error) {
	if f.Body == nil || f.Size == 0 {
		return "", ErrEmptyFile
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	object := path.Join(strings.Trim(dir, "/"), uuid.NewString()+strings.ToLower(path.Ext(f.Name)))
	if _, err := s.client.PutObject(ctx, s.bucket, object, f.Body, f.Size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": path.Base(f.Name)},
	}); err != nil {
		return "", fmt.Errorf("evidence: upload %s: %w", f.Name, err)
	}
	return s.publicURL + "/" + s.bucket + "/" + object, nil
}
