package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vitalik-svt/tomata/internal/errs"
)

// MinioConfig holds connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

type Minio struct {
	client *minio.Client
	bucket string
}

func NewMinio(cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

func (m *Minio) Bucket() string {
	return m.bucket
}

func (m *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %v", errs.ErrStorageTransfer, m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: create bucket %s: %v", errs.ErrStorageTransfer, m.bucket, err)
	}
	return nil
}

func (m *Minio) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", errs.ErrStorageTransfer, key, err)
	}
	return nil
}

func (m *Minio) Get(ctx context.Context, key string) (Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, m.translate("get", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces once the body is read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, m.translate("get", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		return Object{}, m.translate("stat", key, err)
	}
	return Object{Key: key, ContentType: info.ContentType, Data: data}, nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return m.translate("delete", key, err)
	}
	return nil
}

func (m *Minio) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", errs.ErrStorageTransfer, prefix, info.Err)
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// DeletePrefix removes every object under prefix and reports how many were removed.
func (m *Minio) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := m.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	failed := 0
	var firstErr error
	for result := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: delete %s: %v", errs.ErrStorageTransfer, result.ObjectName, result.Err)
		}
	}
	return len(keys) - failed, firstErr
}

func (m *Minio) translate(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", errs.ErrNotFound, op, key)
	}
	return fmt.Errorf("%w: %s %s: %v", errs.ErrStorageTransfer, op, key, err)
}
