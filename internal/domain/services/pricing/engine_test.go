package pricing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func offer(min, max, pct string, days int, active bool) entities.Offer {
	return entities.Offer{
		ID:              uuid.New(),
		MinUsdt:         d(min),
		MaxUsdt:         d(max),
		DiscountPercent: d(pct),
		ValidityDays:    days,
		IsActive:        active,
	}
}

func snapshot(price string, offers ...entities.Offer) Snapshot {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return Snapshot{GoldPricePerGram: d(price), Offers: offers, IcoStartDate: start, At: start.Add(time.Hour)}
}

func TestQuote_EndToEndScenario(t *testing.T) {
	e := NewEngine(d("50"))
	q, err := e.Quote(d("1000"), snapshot("60", offer("500", "2000", "5", 0, true)))
	require.NoError(t, err)

	assert.Equal(t, "16.66666666", q.BasePio.String())
	assert.Equal(t, "0.83333333", q.BonusPio.String())
	assert.Equal(t, "17.49999999", q.TotalPio.String())
	assert.Equal(t, "5", q.DiscountPercent.String())
	require.NotNil(t, q.MatchedOffer)
}

func TestQuote_BelowMinimum(t *testing.T) {
	e := NewEngine(d("50"))
	for _, amt := range []string{"0", "10", "49.99999999"} {
		_, err := e.Quote(d(amt), snapshot("60"))
		require.Error(t, err, amt)
		assert.Equal(t, domainerrors.CodeBelowMinimum, domainerrors.GetErrorCode(err))
	}
	_, err := e.Quote(d("50"), snapshot("60"))
	assert.NoError(t, err)
}

func TestQuote_NoMatchingTier(t *testing.T) {
	e := NewEngine(d("50"))
	q, err := e.Quote(d("100"), snapshot("85", offer("500", "799", "15", 0, true)))
	require.NoError(t, err)
	assert.True(t, q.DiscountPercent.IsZero())
	assert.True(t, q.BonusPio.IsZero())
	assert.True(t, q.TotalPio.Equal(q.BasePio))
	assert.Nil(t, q.MatchedOffer)
}

func TestQuote_HighestDiscountWinsWithoutStacking(t *testing.T) {
	e := NewEngine(d("50"))
	q, err := e.Quote(d("600"), snapshot("60",
		offer("50", "1000", "5", 0, true),
		offer("500", "799", "15", 0, true),
		offer("600", "600", "30", 0, false),
	))
	require.NoError(t, err)
	assert.Equal(t, "15", q.DiscountPercent.String())
	assert.Equal(t, "10", q.BasePio.String())
	assert.Equal(t, "1.5", q.BonusPio.String())
	assert.Equal(t, "11.5", q.TotalPio.String())
}

func TestQuote_InclusiveBounds(t *testing.T) {
	e := NewEngine(d("50"))
	tiers := []entities.Offer{offer("300", "499", "10", 0, true), offer("500", "799", "15", 0, true)}
	q, err := e.Quote(d("499"), snapshot("85", tiers...))
	require.NoError(t, err)
	assert.Equal(t, "10", q.DiscountPercent.String())

	q, err = e.Quote(d("500"), snapshot("85", tiers...))
	require.NoError(t, err)
	assert.Equal(t, "15", q.DiscountPercent.String())
}

func TestQuote_ExpiredTierIgnored(t *testing.T) {
	e := NewEngine(d("50"))
	snap := snapshot("85", offer("800", "1000", "20", 15, true), offer("50", "1000", "5", 60, true))
	snap.At = snap.IcoStartDate.Add(16 * 24 * time.Hour)

	q, err := e.Quote(d("900"), snap)
	require.NoError(t, err)
	assert.Equal(t, "5", q.DiscountPercent.String())
}

func TestQuote_RejectsNonPositivePrice(t *testing.T) {
	e := NewEngine(d("50"))
	_, err := e.Quote(d("100"), snapshot("0"))
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestQuote_InvariantsHoldAcrossAmounts(t *testing.T) {
	e := NewEngine(d("50"))
	snap := snapshot("85.37",
		offer("800", "1000", "20", 0, true),
		offer("500", "799", "15", 0, true),
		offer("300", "499", "10", 0, true),
		offer("50", "299", "5", 0, true),
	)
	tolerance := d("0.00000001")
	for amt := int64(50); amt <= 1200; amt += 37 {
		usdt := decimal.NewFromInt(amt).Add(d("0.123456"))
		q, err := e.Quote(usdt, snap)
		require.NoError(t, err)

		assert.True(t, q.TotalPio.Equal(q.BasePio.Add(q.BonusPio)))
		exact := q.BasePio.Mul(q.DiscountPercent).Div(decimal.NewFromInt(100))
		assert.True(t, exact.Sub(q.BonusPio).Abs().LessThan(tolerance), "amount %s", usdt)
		assert.True(t, q.BonusPio.LessThanOrEqual(exact))
		assert.LessOrEqual(t, -q.BasePio.Exponent(), Precision)
		assert.True(t, q.BasePio.Mul(q.GoldPrice).LessThanOrEqual(usdt))
	}
}

func TestFromOrder_UsesFrozenValues(t *testing.T) {
	e := NewEngine(d("50"))
	q, err := e.Quote(d("1000"), snapshot("60", offer("500", "2000", "5", 0, true)))
	require.NoError(t, err)

	var o entities.Order
	o.UsdtAmount = d("1000")
	o.ApplyQuote(q)

	// A later price change must not alter the stored breakdown.
	later, err := e.Quote(d("1000"), snapshot("90", offer("500", "2000", "5", 0, true)))
	require.NoError(t, err)
	assert.False(t, later.TotalPio.Equal(q.TotalPio))

	frozen := FromOrder(&o)
	assert.True(t, frozen.TotalPio.Equal(q.TotalPio))
	assert.True(t, frozen.GoldPrice.Equal(d("60")))
	assert.NotNil(t, o.OfferID)
}
