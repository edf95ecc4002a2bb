package entities

import "github.com/shopspring/decimal"

// Quote is the PIO breakdown for a USDT amount.
type Quote struct {
	UsdtAmount      decimal.Decimal `json:"usdt_amount"`
	GoldPrice       decimal.Decimal `json:"gold_price"`
	BasePio         decimal.Decimal `json:"base_pio"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	BonusPio        decimal.Decimal `json:"bonus_pio"`
	TotalPio        decimal.Decimal `json:"total_pio"`
	MatchedOffer    *Offer          `json:"matched_offer,omitempty"`
}

// CalculatePurchaseRequest is the body of POST /calculate-purchase.
type CalculatePurchaseRequest struct {
	UsdtAmount decimal.Decimal `json:"usdt_amount"`
}

// CreateOrderRequest is the body of POST /orders/create.
type CreateOrderRequest struct {
	WalletAddress string          `json:"wallet_address" binding:"required"`
	UsdtAmount    decimal.Decimal `json:"usdt_amount"`
	TxHash        string          `json:"tx_hash" binding:"required"`
}
