// Package minio archives docking artifacts in an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// API is the subset of *minio.Client the store calls.
type API interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Config holds connection and bucket settings.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PresignExpiry time.Duration
}

func applyDefaults(cfg *Config) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "discovery-artifacts"
	}
	if cfg.PresignExpiry == 0 {
		cfg.PresignExpiry = time.Hour
	}
}

// ArtifactStore writes docking results and viewer pages. Stored objects are
// addressed by s3://<bucket>/<key> URIs; Presign turns one into a temporary
// download link.
type ArtifactStore struct {
	api    API
	cfg    Config
	logger logging.Logger
}

// NewArtifactStore connects to the endpoint and creates the bucket if it is
// missing.
func NewArtifactStore(ctx context.Context, cfg Config, log logging.Logger) (*ArtifactStore, error) {
	applyDefaults(&cfg)
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to create minio client")
	}
	s := NewArtifactStoreWithAPI(client, cfg, log)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("artifact store ready",
		logging.String("endpoint", cfg.Endpoint), logging.String("bucket", cfg.Bucket), logging.Bool("ssl", cfg.UseSSL))
	return s, nil
}

// NewArtifactStoreWithAPI builds a store on an existing client.
func NewArtifactStoreWithAPI(api API, cfg Config, log logging.Logger) *ArtifactStore {
	applyDefaults(&cfg)
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ArtifactStore{api: api, cfg: cfg, logger: log.Named("artifacts")}
}

func (s *ArtifactStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to check bucket existence")
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, fmt.Sprintf("failed to create bucket %s", s.cfg.Bucket))
	}
	s.logger.Info("created bucket", logging.String("bucket", s.cfg.Bucket))
	return nil
}

// PutArtifact uploads data under key and returns its URI.
func (s *ArtifactStore) PutArtifact(ctx context.Context, key, contentType string, data []byte) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.InvalidParam("artifact key is required")
	}
	_, err := s.api.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.New(errors.CodeStorageError, "failed to upload artifact").
			WithDetail("key=" + key).WithCause(err)
	}
	s.logger.Debug("artifact stored", logging.String("key", key), logging.Int("bytes", len(data)))
	return s.URI(key), nil
}

// URI returns the stable address of key in this store.
func (s *ArtifactStore) URI(key string) string {
	return "s3://" + s.cfg.Bucket + "/" + strings.TrimLeft(key, "/")
}

// KeyFromURI reverses URI. It fails for URIs of other buckets.
func (s *ArtifactStore) KeyFromURI(uri string) (string, error) {
	prefix := "s3://" + s.cfg.Bucket + "/"
	if !strings.HasPrefix(uri, prefix) || len(uri) == len(prefix) {
		return "", errors.InvalidParam("artifact uri does not belong to this store").WithDetail(uri)
	}
	return strings.TrimPrefix(uri, prefix), nil
}

// Presign returns a temporary download URL for key.
func (s *ArtifactStore) Presign(ctx context.Context, key string) (string, error) {
	u, err := s.api.PresignedGetObject(ctx, s.cfg.Bucket, strings.TrimLeft(key, "/"), s.cfg.PresignExpiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeStorageError, "failed to presign artifact")
	}
	return u.String(), nil
}

// Delete removes key. Missing objects are not an error.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	if err := s.api.RemoveObject(ctx, s.cfg.Bucket, strings.TrimLeft(key, "/"), minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to delete artifact")
	}
	return nil
}
