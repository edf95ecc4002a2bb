package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

const offerColumns = `id, name, min_usdt, max_usdt, discount_percent, validity_days, is_active, created_at, updated_at`

// OfferRepository persists bonus tiers.
type OfferRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewOfferRepository creates an offer repository.
func NewOfferRepository(db *sqlx.DB, logger *zap.Logger) *OfferRepository {
	return &OfferRepository{db: db, logger: logger}
}

// List returns tiers ordered by lower bound.
func (r *OfferRepository) List(ctx context.Context, activeOnly bool) ([]entities.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY min_usdt ASC`

	offers := []entities.Offer{}
	if err := r.db.SelectContext(ctx, &offers, query); err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	return offers, nil
}

// GetByID returns one tier.
func (r *OfferRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Offer, error) {
	var o entities.Offer
	if err := r.db.GetContext(ctx, &o, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("offer")
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return &o, nil
}

// Create inserts a tier.
func (r *OfferRepository) Create(ctx context.Context, o *entities.Offer) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES (:id, :name, :min_usdt, :max_usdt, :discount_percent, :validity_days, :is_active, :created_at, :updated_at)`, o)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

// Update rewrites a tier.
func (r *OfferRepository) Update(ctx context.Context, o *entities.Offer) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE offers SET name = :name, min_usdt = :min_usdt, max_usdt = :max_usdt,
			discount_percent = :discount_percent, validity_days = :validity_days,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`, o)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		if err != nil {
			return err
		}
		return domainerrors.NotFoundError("offer")
	}
	return nil
}

// Delete removes a tier.
func (r *OfferRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM offers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete offer: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		if err != nil {
			return err
		}
		return domainerrors.NotFoundError("offer")
	}
	return nil
}
