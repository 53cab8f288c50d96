// Package storage reads template documents from local disk, Google Cloud
// Storage or Amazon S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
)

const (
	SchemeFile = "file"
	SchemeGCS  = "gs"
	SchemeS3   = "s3"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectLocation describes where a blob lives. For SchemeFile, Bucket is the
// directory and Key the file name.
type ObjectLocation struct {
	Scheme string
	Bucket string
	Key    string
}

// IsPrefix reports whether the location names a folder rather than one object.
func (l ObjectLocation) IsPrefix() bool {
	return l.Key == "" || strings.HasSuffix(l.Key, "/")
}

func (l ObjectLocation) String() string {
	if l.Scheme == SchemeFile {
		return filepath.Join(l.Bucket, l.Key)
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ParseObjectURI accepts gs://bucket/key, s3://bucket/key, file:///path or a plain path.
func ParseObjectURI(raw string) (ObjectLocation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ObjectLocation{}, fmt.Errorf("object uri is required")
	}

	if !strings.Contains(raw, "://") {
		return fileLocation(raw), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ObjectLocation{}, fmt.Errorf("parse object uri: %w", err)
	}

	switch u.Scheme {
	case SchemeFile:
		return fileLocation(u.Path), nil
	case SchemeGCS, SchemeS3:
		if u.Host == "" {
			return ObjectLocation{}, fmt.Errorf("object uri %q has no bucket", raw)
		}
		return ObjectLocation{Scheme: u.Scheme, Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	default:
		return ObjectLocation{}, fmt.Errorf("unsupported object uri scheme %q", u.Scheme)
	}
}

func fileLocation(path string) ObjectLocation {
	if strings.HasSuffix(path, "/") {
		return ObjectLocation{Scheme: SchemeFile, Bucket: filepath.Clean(path), Key: ""}
	}
	return ObjectLocation{Scheme: SchemeFile, Bucket: filepath.Dir(path), Key: filepath.Base(path)}
}

// Bucket is the minimal read surface shared by every backend.
type Bucket interface {
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Object is one fetched blob.
type Object struct {
	Key  string
	Body []byte
}

// Fetch reads the object at loc, or every object under loc when it names a prefix.
// Objects come back sorted by key.
func Fetch(ctx context.Context, b Bucket, loc ObjectLocation) ([]Object, error) {
	if !loc.IsPrefix() {
		body, err := b.Read(ctx, loc.Key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", loc, err)
		}
		return []Object{{Key: loc.Key, Body: body}}, nil
	}

	keys, err := b.List(ctx, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", loc, err)
	}
	sort.Strings(keys)

	objects := make([]Object, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		body, err := b.Read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		objects = append(objects, Object{Key: key, Body: body})
	}
	return objects, nil
}

// Open returns the backend serving loc and a close func.
func Open(ctx context.Context, loc ObjectLocation) (Bucket, func() error, error) {
	switch loc.Scheme {
	case SchemeFile:
		return LocalBucket{Dir: loc.Bucket}, func() error { return nil }, nil
	case SchemeGCS:
		b, err := NewGCSBucket(ctx, loc.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case SchemeS3:
		b, err := NewS3Bucket(ctx, loc.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return b, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported scheme %q", loc.Scheme)
	}
}
