package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Admin is an operator account.
type Admin struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	TOTPSecret   string    `json:"-" db:"totp_secret"` // sealed
	TOTPEnabled  bool      `json:"totp_enabled" db:"totp_enabled"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// AdminCredentials is the body of setup and login.
type AdminCredentials struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	TOTPCode string `json:"totp_code,omitempty" binding:"omitempty,len=6,numeric"`
}

// TOTPEnrollment is returned once when an authenticator is enrolled.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// TOTPCodeRequest confirms an enrollment.
type TOTPCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// AdminStats is the dashboard summary.
type AdminStats struct {
	TotalUsers         int64           `json:"total_users" db:"total_users"`
	TotalOrders        int64           `json:"total_orders" db:"total_orders"`
	CompletedOrders    int64           `json:"completed_orders" db:"completed_orders"`
	FailedOrders       int64           `json:"failed_orders" db:"failed_orders"`
	TotalUsdtRaised    decimal.Decimal `json:"total_usdt_raised" db:"total_usdt_raised"`
	TotalPioSold       decimal.Decimal `json:"total_pio_sold" db:"total_pio_sold"`
	PendingReferrals   int64           `json:"pending_referrals" db:"pending_referrals"`
	PendingReferralPio decimal.Decimal `json:"pending_referral_pio" db:"pending_referral_pio"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
