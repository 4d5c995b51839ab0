package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vbonduro/spaform/internal/domain"
)

var ErrNotFound = errors.New("not found")

const spaColumns = `id, spa_name, city, area, price, timing, created_at, updated_at`

// patchable maps a wire field name to its column. Columns are never taken
// from input directly.
var patchable = map[string]string{
	"spa_name": "spa_name",
	"city":     "city",
	"area":     "area",
	"price":    "price",
	"timing":   "timing",
}

type SpaStore struct {
	db *sqlx.DB
}

func NewSpaStore(db *sqlx.DB) *SpaStore {
	return &SpaStore{db: db}
}

func (s *SpaStore) Create(ctx context.Context, spa *domain.Spa) (*domain.Spa, error) {
	result, err := s.db.NamedExecContext(ctx, `
		INSERT INTO spas (spa_name, city, area, price, timing)
		VALUES (:spa_name, :city, :area, :price, :timing)
	`, spa)
	if err != nil {
		return nil, fmt.Errorf("failed to create spa: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns nil without error when no spa has id.
func (s *SpaStore) GetByID(ctx context.Context, id int64) (*domain.Spa, error) {
	spa := &domain.Spa{}
	err := s.db.GetContext(ctx, spa, `SELECT `+spaColumns+` FROM spas WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spa: %w", err)
	}
	return spa, nil
}

func (s *SpaStore) List(ctx context.Context) ([]*domain.Spa, error) {
	var spas []*domain.Spa
	if err := s.db.SelectContext(ctx, &spas, `SELECT `+spaColumns+` FROM spas ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("failed to list spas: %w", err)
	}
	return spas, nil
}

// Update replaces every scalar column of spa.ID.
func (s *SpaStore) Update(ctx context.Context, spa *domain.Spa) error {
	result, err := s.db.NamedExecContext(ctx, `
		UPDATE spas
		SET spa_name = :spa_name, city = :city, area = :area, price = :price, timing = :timing,
		    updated_at = datetime('now')
		WHERE id = :id
	`, spa)
	if err != nil {
		return fmt.Errorf("failed to update spa: %w", err)
	}
	return expectOneRow(result, "spa")
}

// UpdateField sets one column, named by its wire field name.
func (s *SpaStore) UpdateField(ctx context.Context, id int64, field, value string) error {
	column, ok := patchable[field]
	if !ok {
		return fmt.Errorf("field %q cannot be updated", field)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE spas SET `+column+` = ?, updated_at = datetime('now') WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("failed to update spa %s: %w", field, err)
	}
	return expectOneRow(result, "spa")
}

func (s *SpaStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM spas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete spa: %w", err)
	}
	return expectOneRow(result, "spa")
}

func expectOneRow(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}
