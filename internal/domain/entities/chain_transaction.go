package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ChainBSC     = "bsc"
	ChainPioGold = "piogold"

	TxTypeUSDTPayment = "usdt_payment"
	TxTypePIOTransfer = "pio_transfer"
)

// ChainTxStatus tracks a journaled transfer.
type ChainTxStatus string

const (
	ChainTxStatusPending   ChainTxStatus = "pending"
	ChainTxStatusConfirmed ChainTxStatus = "confirmed"
	ChainTxStatusFailed    ChainTxStatus = "failed"
)

// ChainTransaction is one on-chain leg of an order.
type ChainTransaction struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	Chain       string          `json:"chain" db:"chain"`
	TxType      string          `json:"tx_type" db:"tx_type"`
	TxHash      string          `json:"tx_hash" db:"tx_hash"`
	FromAddress string          `json:"from_address" db:"from_address"`
	ToAddress   string          `json:"to_address" db:"to_address"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      ChainTxStatus   `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
