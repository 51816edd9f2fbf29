// Package blobstore implements the BlobStore port (spec.md §6 persisted
// state) as content-addressed object storage, grounded on
// internal/infra/uploadask/storage/r2.go's minio-go adapter.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// R2 is the content-addressed object-storage adapter. Keys are content-hash
// derived paths, so Put is naturally idempotent and collision-free.
type R2 struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewR2 constructs the storage adapter.
func NewR2(endpoint, accessKey, secretKey, bucket, region string, logger *slog.Logger) (*R2, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanEndpoint := sanitizeEndpoint(endpoint)
	useSSL := strings.HasPrefix(strings.ToLower(endpoint), "https")
	client, err := minio.New(cleanEndpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init content store client: %w", err)
	}
	return &R2{client: client, bucket: bucket, logger: logger.With("component", "ingest.blobstore.r2")}, nil
}

func (r *R2) ensureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err == nil && exists {
		return nil
	}
	err = r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return err
	}
	return nil
}

// Put writes data to its content-hash-derived key. Writing the same key
// twice is a safe no-op by construction (spec.md §4.5.1 step 2).
func (r *R2) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      contentType,
		DisableMultipart: len(data) < 5*1024*1024,
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Get reads the full object back into memory for fast-lane inline processing.
func (r *R2) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	if _, statErr := obj.Stat(); statErr != nil {
		return nil, statErr
	}
	return io.ReadAll(obj)
}

// Delete removes an object; best-effort unlink callers tolerate a not-found error.
func (r *R2) Delete(ctx context.Context, path string) error {
	return r.client.RemoveObject(ctx, r.bucket, path, minio.RemoveObjectOptions{})
}

var _ ingest.BlobStore = (*R2)(nil)

func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if strings.Contains(raw, "/") {
		parts := strings.Split(raw, "/")
		raw = parts[0]
	}
	return raw
}
