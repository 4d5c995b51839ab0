package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vbonduro/spaform/internal/domain"
)

const imageColumns = `id, spa_id, position, storage_key, filename, mime_type, uploaded_at`

// ImageStore keeps the rows describing a spa's hosted images. The bytes live
// in an imagestore.Store under StorageKey.
type ImageStore struct {
	db *sqlx.DB
}

func NewImageStore(db *sqlx.DB) *ImageStore {
	return &ImageStore{db: db}
}

func (s *ImageStore) Create(ctx context.Context, img *domain.SpaImage) (*domain.SpaImage, error) {
	result, err := s.db.NamedExecContext(ctx, `
		INSERT INTO spa_images (spa_id, position, storage_key, filename, mime_type)
		VALUES (:spa_id, :position, :storage_key, :filename, :mime_type)
	`, img)
	if err != nil {
		return nil, fmt.Errorf("failed to create spa image: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	created := &domain.SpaImage{}
	if err := s.db.GetContext(ctx, created, `SELECT `+imageColumns+` FROM spa_images WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get spa image: %w", err)
	}
	return created, nil
}

// ListBySpaID returns the spa's images in upload order.
func (s *ImageStore) ListBySpaID(ctx context.Context, spaID int64) ([]*domain.SpaImage, error) {
	var images []*domain.SpaImage
	err := s.db.SelectContext(ctx, &images,
		`SELECT `+imageColumns+` FROM spa_images WHERE spa_id = ? ORDER BY position ASC, id ASC`, spaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spa images: %w", err)
	}
	return images, nil
}

// GetByStorageKey returns nil without error when the key is unknown.
func (s *ImageStore) GetByStorageKey(ctx context.Context, key string) (*domain.SpaImage, error) {
	img := &domain.SpaImage{}
	err := s.db.GetContext(ctx, img, `SELECT `+imageColumns+` FROM spa_images WHERE storage_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spa image: %w", err)
	}
	return img, nil
}

// DeleteBySpaID removes the spa's image rows and returns them so the caller
// can delete the stored bytes.
func (s *ImageStore) DeleteBySpaID(ctx context.Context, spaID int64) ([]*domain.SpaImage, error) {
	images, err := s.ListBySpaID(ctx, spaID)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM spa_images WHERE spa_id = ?`, spaID); err != nil {
		return nil, fmt.Errorf("failed to delete spa images: %w", err)
	}
	return images, nil
}
