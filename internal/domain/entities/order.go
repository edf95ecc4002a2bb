package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is one purchase, keyed by the buyer's payment transaction hash.
// Pricing fields are frozen at creation; settlement reads them back
// instead of re-quoting.
type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	WalletAddress   string          `json:"wallet_address" db:"wallet_address"`
	UsdtAmount      decimal.Decimal `json:"usdt_amount" db:"usdt_amount"`
	PaymentTxHash   string          `json:"payment_tx_hash" db:"payment_tx_hash"`
	// TreasuryAddress is the payment destination shown when the order was made.
	TreasuryAddress string          `json:"treasury_address" db:"treasury_address"`
	Status          OrderStatus     `json:"status" db:"status"`
	GoldPrice       decimal.Decimal `json:"gold_price" db:"gold_price"`
	BasePio         decimal.Decimal `json:"base_pio" db:"base_pio"`
	DiscountPercent decimal.Decimal `json:"discount_percent" db:"discount_percent"`
	BonusPio        decimal.Decimal `json:"bonus_pio" db:"bonus_pio"`
	TotalPio        decimal.Decimal `json:"total_pio" db:"total_pio"`
	OfferID         *uuid.UUID      `json:"offer_id,omitempty" db:"offer_id"`
	PayoutTxHash    *string         `json:"payout_tx_hash,omitempty" db:"payout_tx_hash"`
	Error           *string         `json:"error,omitempty" db:"error"`

	// SettlementApplied flips together with COMPLETED and the referral rows.
	SettlementApplied bool `json:"-" db:"settlement_applied"`
	// PayoutAttempt increments on every admin requeue and guards concurrent requeues.
	PayoutAttempt int `json:"-" db:"payout_attempt"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasPayoutHash reports whether a payout transaction was signed for this order.
func (o *Order) HasPayoutHash() bool {
	return o.PayoutTxHash != nil && *o.PayoutTxHash != ""
}

// ApplyQuote freezes a quote onto the order.
func (o *Order) ApplyQuote(q *Quote) {
	o.GoldPrice = q.GoldPrice
	o.BasePio = q.BasePio
	o.DiscountPercent = q.DiscountPercent
	o.BonusPio = q.BonusPio
	o.TotalPio = q.TotalPio
	if q.MatchedOffer != nil {
		id := q.MatchedOffer.ID
		o.OfferID = &id
	}
}

// OrderUpdate carries the optional columns a transition may set.
type OrderUpdate struct {
	PayoutTxHash *string
	Error        *string
}

// OrderFilter narrows admin listings.
type OrderFilter struct {
	Status        *OrderStatus
	WalletAddress string
	Limit         int
	Offset        int
}
