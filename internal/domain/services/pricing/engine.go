// Package pricing turns a USDT amount into a PIO breakdown. It performs no I/O.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

// Precision is the number of fractional PIO digits exposed.
const Precision int32 = 8

var hundred = decimal.NewFromInt(100)

// Snapshot is the price table a quote is computed against.
type Snapshot struct {
	GoldPricePerGram decimal.Decimal
	Offers           []entities.Offer
	IcoStartDate     time.Time
	At               time.Time
}

func (s Snapshot) daysSinceStart() int {
	if s.IcoStartDate.IsZero() || s.At.Before(s.IcoStartDate) {
		return 0
	}
	return int(s.At.Sub(s.IcoStartDate) / (24 * time.Hour))
}

// Engine quotes purchases against a snapshot.
type Engine struct {
	minUsdt decimal.Decimal
}

// NewEngine creates an engine enforcing the given minimum purchase.
func NewEngine(minUsdt decimal.Decimal) *Engine {
	return &Engine{minUsdt: minUsdt}
}

// MinUsdt returns the minimum purchase amount.
func (e *Engine) MinUsdt() decimal.Decimal {
	return e.minUsdt
}

// Quote prices usdtAmount. Values are truncated toward zero at Precision digits.
func (e *Engine) Quote(usdtAmount decimal.Decimal, snap Snapshot) (*entities.Quote, error) {
	if usdtAmount.LessThan(e.minUsdt) {
		return nil, domainerrors.BelowMinimumError(e.minUsdt.String())
	}
	if !snap.GoldPricePerGram.IsPositive() {
		return nil, domainerrors.ValidationError("gold_price_per_gram", "gold price must be positive")
	}

	offer := MatchOffer(usdtAmount, snap.Offers, snap.daysSinceStart())
	pct := decimal.Zero
	if offer != nil {
		pct = offer.DiscountPercent
	}

	base := Truncate(usdtAmount, snap.GoldPricePerGram)
	bonus := Bonus(base, pct)

	return &entities.Quote{
		UsdtAmount:      usdtAmount,
		GoldPrice:       snap.GoldPricePerGram,
		BasePio:         base,
		DiscountPercent: pct,
		BonusPio:        bonus,
		TotalPio:        base.Add(bonus),
		MatchedOffer:    offer,
	}, nil
}

// MatchOffer returns the eligible active tier with the highest bonus, or nil.
// Tiers never stack.
func MatchOffer(usdtAmount decimal.Decimal, offers []entities.Offer, daysSinceStart int) *entities.Offer {
	var best *entities.Offer
	for i := range offers {
		o := &offers[i]
		if !o.IsActive || !o.Contains(usdtAmount) || !o.ValidOn(daysSinceStart) {
			continue
		}
		if best == nil || o.DiscountPercent.GreaterThan(best.DiscountPercent) {
			best = o
		}
	}
	if best == nil {
		return nil
	}
	matched := *best
	return &matched
}

// Truncate divides num by den, keeping Precision digits and dropping the rest.
func Truncate(num, den decimal.Decimal) decimal.Decimal {
	q, _ := num.QuoRem(den, Precision)
	return q
}

// Bonus is base * pct / 100, truncated.
func Bonus(base, pct decimal.Decimal) decimal.Decimal {
	return Truncate(base.Mul(pct), hundred)
}

// FromOrder rebuilds the frozen quote stored on an order.
func FromOrder(o *entities.Order) *entities.Quote {
	return &entities.Quote{
		UsdtAmount:      o.UsdtAmount,
		GoldPrice:       o.GoldPrice,
		BasePio:         o.BasePio,
		DiscountPercent: o.DiscountPercent,
		BonusPio:        o.BonusPio,
		TotalPio:        o.TotalPio,
	}
}
