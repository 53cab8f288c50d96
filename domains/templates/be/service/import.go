package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/platform/go/storage"
)

// FetchFunc reads one template source and returns its body and format.
type FetchFunc func(ctx context.Context, uri string) ([]byte, string, error)

// FetchSource reads a local path, gs:// or s3:// object.
func FetchSource(ctx context.Context, uri string) ([]byte, string, error) {
	loc, err := storage.ParseObjectURI(uri)
	if err != nil {
		return nil, "", err
	}
	if loc.IsPrefix() {
		return nil, "", fmt.Errorf("template source %s names a folder", loc)
	}

	bucket, closeFn, err := storage.Open(ctx, loc)
	if err != nil {
		return nil, "", err
	}
	defer closeFn() // nolint:errcheck

	objects, err := storage.Fetch(ctx, bucket, loc)
	if err != nil {
		return nil, "", err
	}
	if len(objects) != 1 {
		return nil, "", fmt.Errorf("template source %s: expected one object, got %d", loc, len(objects))
	}
	return objects[0].Body, FormatFromName(objects[0].Key), nil
}

// ImportInput names the template source and the cache entry it replaces.
// A zero Version bumps the cached version by one.
type ImportInput struct {
	Key     string
	Version int
	URI     string
}

// ImportTemplate validates a template source and stores it in the cache as JSON.
func (s *Service) ImportTemplate(ctx context.Context, in ImportInput) (Template, error) {
	fields := FieldErrors{}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		key = DefaultTemplateKey
	}
	if strings.TrimSpace(in.URI) == "" {
		fields["uri"] = append(fields["uri"], "source uri is required")
	}
	if in.Version < 0 {
		fields["version"] = append(fields["version"], "must not be negative")
	}
	if len(fields) > 0 {
		return Template{}, &ValidationError{Fields: fields}
	}

	body, format, err := s.fetch(ctx, in.URI)
	if err != nil {
		return Template{}, fmt.Errorf("read template source: %w", err)
	}
	doc, err := DecodeDocument(body, format)
	if err != nil {
		return Template{}, err
	}
	content, err := json.Marshal(doc)
	if err != nil {
		return Template{}, fmt.Errorf("encode template: %w", err)
	}

	version := in.Version
	if version == 0 {
		current, err := s.repo.GetTemplate(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			version = 1
		case err != nil:
			return Template{}, err
		default:
			version = current.Version + 1
		}
	}

	stored, err := s.repo.UpsertTemplate(ctx, Template{
		Key:         key,
		Version:     version,
		ContentType: ContentTypeJSON,
		Content:     string(content),
	})
	if err != nil {
		return Template{}, fmt.Errorf("store template %q: %w", key, err)
	}

	s.logger.Info("template imported",
		zap.String("template_key", stored.Key),
		zap.Int("template_version", stored.Version),
		zap.String("source", in.URI))
	return stored, nil
}
