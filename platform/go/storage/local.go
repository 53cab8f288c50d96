package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalBucket reads files below Dir.
type LocalBucket struct {
	Dir string
}

func (b LocalBucket) Read(_ context.Context, key string) ([]byte, error) {
	body, err := os.ReadFile(filepath.Join(b.Dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return body, err
}

// List returns the regular files directly inside Dir/prefix.
func (b LocalBucket) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.Dir, filepath.FromSlash(prefix)))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			keys = append(keys, strings.TrimPrefix(prefix+e.Name(), "/"))
		}
	}
	return keys, nil
}
