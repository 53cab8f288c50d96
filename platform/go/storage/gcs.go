package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSBucket reads objects from one Google Cloud Storage bucket.
type GCSBucket struct {
	client *storage.Client
	bucket string
}

// NewGCSBucket uses Application Default Credentials.
func NewGCSBucket(ctx context.Context, bucket string) (*GCSBucket, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSBucket{client: client, bucket: bucket}, nil
}

func (b *GCSBucket) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if attrs.Name != "" {
			keys = append(keys, attrs.Name)
		}
	}
	return keys, nil
}

func (b *GCSBucket) Close() error {
	return b.client.Close()
}
