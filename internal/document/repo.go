package document

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Document{})
}

func (r *Repo) Create(ctx context.Context, d *Document) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// GetByID returns gorm.ErrRecordNotFound for unknown ids.
func (r *Repo) GetByID(ctx context.Context, id string) (*Document, error) {
	var d Document
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Delete reports whether a row was removed.
func (r *Repo) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Document{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type Filter struct {
	FilenameContains string
	ContentType      string
}

// List returns documents newest first.
func (r *Repo) List(ctx context.Context, f Filter) ([]Document, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC, id")
	if s := strings.TrimSpace(f.FilenameContains); s != "" {
		q = q.Where("LOWER(filename) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	if ct := strings.TrimSpace(f.ContentType); ct != "" {
		q = q.Where("content_type = ?", ct)
	}
	var docs []Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *Repo) FindByFilenameContaining(ctx context.Context, s string) ([]Document, error) {
	return r.List(ctx, Filter{FilenameContains: s})
}

func (r *Repo) FindByContentType(ctx context.Context, contentType string) ([]Document, error) {
	return r.List(ctx, Filter{ContentType: contentType})
}
