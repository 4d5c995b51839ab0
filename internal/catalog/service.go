// Package catalog is the stand-in's listing service: spa rows, their image
// rows and the stored image bytes, kept consistent.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vbonduro/spaform/internal/domain"
	"github.com/vbonduro/spaform/internal/imagestore"
	"github.com/vbonduro/spaform/internal/spa"
	"github.com/vbonduro/spaform/internal/store"
)

var ErrNotFound = errors.New("spa not found")

// spaRepository is the subset of store.SpaStore that Service requires.
type spaRepository interface {
	Create(ctx context.Context, spa *domain.Spa) (*domain.Spa, error)
	GetByID(ctx context.Context, id int64) (*domain.Spa, error)
	List(ctx context.Context) ([]*domain.Spa, error)
	Update(ctx context.Context, spa *domain.Spa) error
	UpdateField(ctx context.Context, id int64, field, value string) error
	Delete(ctx context.Context, id int64) error
}

// imageRepository is the subset of store.ImageStore that Service requires.
type imageRepository interface {
	Create(ctx context.Context, img *domain.SpaImage) (*domain.SpaImage, error)
	ListBySpaID(ctx context.Context, spaID int64) ([]*domain.SpaImage, error)
	GetByStorageKey(ctx context.Context, key string) (*domain.SpaImage, error)
	DeleteBySpaID(ctx context.Context, spaID int64) ([]*domain.SpaImage, error)
}

// Listing is a spa with its images in upload order.
type Listing struct {
	*domain.Spa
	Images []*domain.SpaImage
}

type Service struct {
	spas   spaRepository
	images imageRepository
	blobs  imagestore.Store
	logger *slog.Logger
}

func NewService(spas spaRepository, images imageRepository, blobs imagestore.Store, logger *slog.Logger) *Service {
	return &Service{
		spas:   spas,
		images: images,
		blobs:  blobs,
		logger: logger,
	}
}

// Create stores the draft's scalars and images as a new listing.
func (s *Service) Create(ctx context.Context, draft spa.Draft) (*Listing, error) {
	s.logger.Info("create spa started", "images", len(draft.Images))

	row, err := s.spas.Create(ctx, spaRow(0, draft))
	if err != nil {
		return nil, err
	}

	images, err := s.saveImages(ctx, row.ID, draft.Images)
	if err != nil {
		if derr := s.spas.Delete(ctx, row.ID); derr != nil {
			s.logger.Error("failed to roll back spa after image error", "spa_id", row.ID, "error", derr)
		}
		return nil, err
	}

	s.logger.Info("create spa complete", "spa_id", row.ID, "images", len(images))
	return &Listing{Spa: row, Images: images}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Listing, error) {
	row, err := s.spas.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get spa: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}

	images, err := s.images.ListBySpaID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return &Listing{Spa: row, Images: images}, nil
}

func (s *Service) List(ctx context.Context) ([]*Listing, error) {
	rows, err := s.spas.List(ctx)
	if err != nil {
		return nil, err
	}
	listings := make([]*Listing, 0, len(rows))
	for _, row := range rows {
		images, err := s.images.ListBySpaID(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list images for spa %d: %w", row.ID, err)
		}
		listings = append(listings, &Listing{Spa: row, Images: images})
	}
	return listings, nil
}

// Replace overwrites every scalar of the listing. Images are replaced only
// when the draft carries some; an update without image parts keeps the
// hosted ones.
func (s *Service) Replace(ctx context.Context, id int64, draft spa.Draft) (*Listing, error) {
	if err := s.spas.Update(ctx, spaRow(id, draft)); err != nil {
		return nil, notFound(err)
	}

	if len(draft.Images) > 0 {
		old, err := s.images.DeleteBySpaID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to replace images: %w", err)
		}
		if _, err := s.saveImages(ctx, id, draft.Images); err != nil {
			return nil, err
		}
		s.deleteBlobs(ctx, old)
	}

	s.logger.Info("spa replaced", "spa_id", id, "images", len(draft.Images))
	return s.Get(ctx, id)
}

// Patch sets one scalar field.
func (s *Service) Patch(ctx context.Context, id int64, field spa.Field, value string) (*Listing, error) {
	if err := s.spas.UpdateField(ctx, id, string(field), value); err != nil {
		return nil, notFound(err)
	}
	s.logger.Info("spa patched", "spa_id", id, "field", string(field))
	return s.Get(ctx, id)
}

// Delete removes the listing, then its stored image bytes. Failing to remove
// bytes is logged, not returned.
func (s *Service) Delete(ctx context.Context, id int64) error {
	images, err := s.images.DeleteBySpaID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	if err := s.spas.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	s.deleteBlobs(ctx, images)
	s.logger.Info("spa deleted", "spa_id", id, "images", len(images))
	return nil
}

// Image opens the bytes of a hosted image by storage key.
func (s *Service) Image(ctx context.Context, key string) (io.ReadCloser, string, error) {
	img, err := s.images.GetByStorageKey(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if img == nil {
		return nil, "", imagestore.ErrNotFound
	}
	r, _, err := s.blobs.Get(ctx, img.StorageKey)
	if err != nil {
		return nil, "", err
	}
	return r, img.MimeType, nil
}

func (s *Service) saveImages(ctx context.Context, spaID int64, uploads []spa.Image) ([]*domain.SpaImage, error) {
	saved := make([]*domain.SpaImage, 0, len(uploads))
	for i, up := range uploads {
		mimeType := up.MimeType
		if detected, ok := imagestore.DetectMIME(up.Data); ok {
			mimeType = detected
		}

		key, err := s.blobs.Save(ctx, fmt.Sprintf("spa_%d", spaID), mimeType, bytes.NewReader(up.Data))
		if err != nil {
			s.deleteBlobs(ctx, saved)
			return nil, fmt.Errorf("failed to save image: %w", err)
		}
		s.logger.Debug("image saved", "spa_id", spaID, "storage_key", key)

		row, err := s.images.Create(ctx, &domain.SpaImage{
			SpaID:      spaID,
			Position:   i,
			StorageKey: key,
			Filename:   up.Filename,
			MimeType:   mimeType,
		})
		if err != nil {
			_ = s.blobs.Delete(ctx, key)
			s.deleteBlobs(ctx, saved)
			return nil, fmt.Errorf("failed to create image record: %w", err)
		}
		saved = append(saved, row)
	}
	return saved, nil
}

func (s *Service) deleteBlobs(ctx context.Context, images []*domain.SpaImage) {
	for _, img := range images {
		if err := s.blobs.Delete(ctx, img.StorageKey); err != nil {
			s.logger.Error("failed to delete image file", "storage_key", img.StorageKey, "error", err)
		}
	}
}

func spaRow(id int64, d spa.Draft) *domain.Spa {
	return &domain.Spa{
		ID:     id,
		Name:   d.Name,
		City:   d.City,
		Area:   d.Area,
		Price:  d.Price,
		Timing: d.OpeningHours,
	}
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
