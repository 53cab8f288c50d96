package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TemplateRecord is a cached role template row.
type TemplateRecord struct {
	Key         string
	Version     int
	ContentType string
	Content     string
	UpdatedAt   time.Time
}

// TemplateStore reads and refreshes the role_templates cache.
type TemplateStore struct {
	db *TenantDB
}

func NewTemplateStore(db *TenantDB) (*TemplateStore, error) {
	if db == nil {
		return nil, errors.New("tenant db is required")
	}
	return &TemplateStore{db: db}, nil
}

// Get returns the cached template for key or ErrNotFound.
func (s *TemplateStore) Get(ctx context.Context, key string) (TemplateRecord, error) {
	var rec TemplateRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
            SELECT template_key, version, content_type, content, updated_at
            FROM role_templates WHERE template_key = $1`, key).
			Scan(&rec.Key, &rec.Version, &rec.ContentType, &rec.Content, &rec.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return rec, err
}

// Upsert replaces the cached template for rec.Key.
func (s *TemplateStore) Upsert(ctx context.Context, rec TemplateRecord) (TemplateRecord, error) {
	var out TemplateRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
            INSERT INTO role_templates (template_key, version, content_type, content, updated_at)
            VALUES ($1, $2, $3, $4, now())
            ON CONFLICT (template_key) DO UPDATE
            SET version = EXCLUDED.version,
                content_type = EXCLUDED.content_type,
                content = EXCLUDED.content,
                updated_at = EXCLUDED.updated_at
            RETURNING template_key, version, content_type, content, updated_at`,
			rec.Key, rec.Version, rec.ContentType, rec.Content).
			Scan(&out.Key, &out.Version, &out.ContentType, &out.Content, &out.UpdatedAt)
	})
	return out, err
}
