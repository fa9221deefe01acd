package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config carries the object store connection parameters.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIO implements Store against any S3-compatible endpoint.
type MinIO struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinIO(cfg Config) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, model.WrapErr(model.FailureInternal, err, "create object store client")
	}
	return &MinIO{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket when absent. Losing a creation race
// to a concurrent worker counts as success.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "check bucket")
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		exists, checkErr := m.client.BucketExists(ctx, m.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return model.WrapErr(model.FailureTransient, err, "create bucket")
	}
	return nil
}

func (m *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "put "+key)
	}
	return nil
}

func (m *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, model.WrapErr(model.FailureTransient, err, "get "+key)
	}
	defer obj.Close()

	// GetObject defers errors to the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, model.WrapErr(model.FailureTransient, err, "read "+key)
	}
	return data, nil
}

func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return model.WrapErr(model.FailureTransient, err, "delete "+key)
	}
	return nil
}

func (m *MinIO) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", model.WrapErr(model.FailureTransient, err, "presign get "+key)
	}
	return u.String(), nil
}

func (m *MinIO) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	u, err := m.client.PresignedPutObject(ctx, m.bucket, key, ttl)
	if err != nil {
		return "", model.WrapErr(model.FailureTransient, err, "presign put "+key)
	}
	return u.String(), nil
}
