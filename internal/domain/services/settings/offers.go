package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

var maxDiscount = decimal.NewFromInt(100)

// ListOffers returns the tier table.
func (s *Service) ListOffers(ctx context.Context, activeOnly bool) ([]entities.Offer, error) {
	return s.offers.List(ctx, activeOnly)
}

// CreateOffer adds a tier.
func (s *Service) CreateOffer(ctx context.Context, req *entities.OfferRequest) (*entities.Offer, error) {
	if err := validateOffer(req); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	o := &entities.Offer{
		ID:        uuid.New(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyOffer(o, req)

	if err := s.offers.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	s.invalidate(ctx)
	s.logger.Info("Offer created", zap.String("offer_id", o.ID.String()), zap.String("name", o.Name))
	return o, nil
}

// UpdateOffer replaces a tier.
func (s *Service) UpdateOffer(ctx context.Context, id uuid.UUID, req *entities.OfferRequest) (*entities.Offer, error) {
	if err := validateOffer(req); err != nil {
		return nil, err
	}
	o, err := s.offers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	applyOffer(o, req)
	o.UpdatedAt = s.now().UTC()

	if err := s.offers.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}
	s.invalidate(ctx)
	return o, nil
}

// DeleteOffer removes a tier. Orders keep their frozen discount.
func (s *Service) DeleteOffer(ctx context.Context, id uuid.UUID) error {
	if err := s.offers.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.logger.Info("Offer deleted", zap.String("offer_id", id.String()))
	return nil
}

// SeedDefaultOffers inserts the default tier table when none exists.
func (s *Service) SeedDefaultOffers(ctx context.Context) error {
	existing, err := s.offers.List(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to list offers: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, req := range entities.DefaultOffers() {
		req := req
		if _, err := s.CreateOffer(ctx, &req); err != nil {
			return err
		}
	}
	return nil
}

func applyOffer(o *entities.Offer, req *entities.OfferRequest) {
	o.Name = strings.TrimSpace(req.Name)
	o.MinUsdt = req.MinUsdt
	o.MaxUsdt = req.MaxUsdt
	o.DiscountPercent = req.DiscountPercent
	o.ValidityDays = req.ValidityDays
	if req.IsActive != nil {
		o.IsActive = *req.IsActive
	}
}

func validateOffer(req *entities.OfferRequest) error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return domainerrors.ValidationError("name", "name is required")
	case req.MinUsdt.IsNegative():
		return domainerrors.ValidationError("min_usdt", "min_usdt must not be negative")
	case req.MaxUsdt.LessThan(req.MinUsdt):
		return domainerrors.ValidationError("max_usdt", "max_usdt must be greater than or equal to min_usdt")
	case req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(maxDiscount):
		return domainerrors.ValidationError("discount_percent", "discount_percent must be between 0 and 100")
	case req.ValidityDays < 0:
		return domainerrors.ValidationError("validity_days", "validity_days must not be negative")
	}
	return nil
}
