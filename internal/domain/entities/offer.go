package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer is a bonus tier: purchases within [MinUsdt, MaxUsdt] earn DiscountPercent extra PIO.
type Offer struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	MinUsdt         decimal.Decimal `json:"min_usdt" db:"min_usdt"`
	MaxUsdt         decimal.Decimal `json:"max_usdt" db:"max_usdt"`
	DiscountPercent decimal.Decimal `json:"discount_percent" db:"discount_percent"`
	// ValidityDays counts from the ICO start date; zero means open-ended.
	ValidityDays int       `json:"validity_days" db:"validity_days"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Contains reports whether amount falls in the closed range of the tier.
func (o *Offer) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(o.MinUsdt) && amount.LessThanOrEqual(o.MaxUsdt)
}

// ValidOn reports whether the tier is still open daysSinceStart days into the sale.
func (o *Offer) ValidOn(daysSinceStart int) bool {
	return o.ValidityDays <= 0 || daysSinceStart <= o.ValidityDays
}

// OfferRequest creates or replaces an offer.
type OfferRequest struct {
	Name            string          `json:"name" binding:"required,max=100"`
	MinUsdt         decimal.Decimal `json:"min_usdt"`
	MaxUsdt         decimal.Decimal `json:"max_usdt"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ValidityDays    int             `json:"validity_days" binding:"gte=0"`
	IsActive        *bool           `json:"is_active,omitempty"`
}

// DefaultOffers is the tier table seeded on first admin setup.
func DefaultOffers() []OfferRequest {
	active := true
	mk := func(name string, min, max, pct int64, days int) OfferRequest {
		return OfferRequest{
			Name:            name,
			MinUsdt:         decimal.NewFromInt(min),
			MaxUsdt:         decimal.NewFromInt(max),
			DiscountPercent: decimal.NewFromInt(pct),
			ValidityDays:    days,
			IsActive:        &active,
		}
	}
	return []OfferRequest{
		mk("Platinum Tier", 800, 1000, 20, 15),
		mk("Gold Tier", 500, 799, 15, 30),
		mk("Silver Tier", 300, 499, 10, 45),
		mk("Bronze Tier", 50, 299, 5, 60),
	}
}
