package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings is the singleton operational record.
type Settings struct {
	ID                  int             `json:"-" db:"id"`
	GoldPricePerGram    decimal.Decimal `json:"gold_price_per_gram" db:"gold_price_per_gram"`
	IcoActive           bool            `json:"ico_active" db:"ico_active"`
	IcoStartDate        time.Time       `json:"ico_start_date" db:"ico_start_date"`
	TreasuryAddress     string          `json:"treasury_address" db:"treasury_address"`
	EncryptedSigningKey string          `json:"-" db:"encrypted_signing_key"`
	SigningAddress      string          `json:"signing_address" db:"signing_address"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// DaysSinceStart counts whole days since the ICO started, never negative.
func (s *Settings) DaysSinceStart(now time.Time) int {
	if s.IcoStartDate.IsZero() || now.Before(s.IcoStartDate) {
		return 0
	}
	return int(now.Sub(s.IcoStartDate) / (24 * time.Hour))
}

// HasSigningKey reports whether a payout key was configured.
func (s *Settings) HasSigningKey() bool {
	return s.EncryptedSigningKey != ""
}

// UpdateSettingsRequest is a partial settings update; nil fields are untouched.
type UpdateSettingsRequest struct {
	GoldPricePerGram  *decimal.Decimal `json:"gold_price_per_gram,omitempty"`
	IcoActive         *bool            `json:"ico_active,omitempty"`
	IcoStartDate      *time.Time       `json:"ico_start_date,omitempty"`
	TreasuryAddress   *string          `json:"treasury_address,omitempty"`
	SigningPrivateKey *string          `json:"signing_private_key,omitempty"`
}

// AdminSettingsView is what administrators see; the key itself never leaves the server.
type AdminSettingsView struct {
	Settings
	SigningKeyConfigured bool `json:"signing_key_configured"`
}

// PublicSettings is served to the purchase UI.
type PublicSettings struct {
	GoldPricePerGram decimal.Decimal `json:"gold_price_per_gram"`
	IcoActive        bool            `json:"ico_active"`
	IcoStartDate     time.Time       `json:"ico_start_date"`
	DaysSinceStart   int             `json:"days_since_start"`
	TreasuryAddress  string          `json:"treasury_address"`
	MinPurchaseUsdt  decimal.Decimal `json:"min_purchase_usdt"`
	PaymentChainID   int64           `json:"payment_chain_id"`
	USDTContract     string          `json:"usdt_contract"`
	PayoutChainID    int64           `json:"payout_chain_id"`
	Offers           []Offer         `json:"offers"`
}
