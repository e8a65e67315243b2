// Package storage moves image bytes in and out of S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/vitalik-svt/tomata/internal/errs"
)

const scheme = "s3://"

// Object is one stored blob.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// ObjectStore is the narrow set of object operations the image relocator and lifecycle need.
// Get of a missing key returns errs.ErrNotFound; other failures wrap errs.ErrStorageTransfer.
type ObjectStore interface {
	Bucket() string
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	EnsureBucket(ctx context.Context) error
}

// Location addresses one object as s3://bucket/prefix/file.
type Location struct {
	Bucket string
	Prefix string
	File   string
}

// Key is the object key inside the bucket.
func (l Location) Key() string {
	return JoinKey(l.Prefix, l.File)
}

func (l Location) String() string {
	return scheme + CleanPath(l.Bucket+"/"+l.Key())
}

// ParseLocation splits an s3:// reference. The file is the part after the last slash.
func ParseLocation(raw string) (Location, error) {
	if !strings.HasPrefix(raw, scheme) {
		return Location{}, fmt.Errorf("%w: location %q is not an s3 reference", errs.ErrInvalidInput, raw)
	}
	path := CleanPath(strings.TrimPrefix(raw, scheme))
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("%w: location %q has no object key", errs.ErrInvalidInput, raw)
	}
	loc := Location{Bucket: bucket, File: key}
	if i := strings.LastIndex(key, "/"); i >= 0 {
		loc.Prefix, loc.File = key[:i], key[i+1:]
	}
	return loc, nil
}

// CleanPath trims surrounding slashes and collapses repeated ones.
func CleanPath(path string) string {
	parts := strings.Split(path, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

// JoinKey joins key segments, ignoring empty ones.
func JoinKey(segments ...string) string {
	return CleanPath(strings.Join(segments, "/"))
}

// PrefixOf returns the key prefix under which a document's objects live.
func PrefixOf(docID string) string {
	return CleanPath(docID) + "/"
}
