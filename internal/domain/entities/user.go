package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a buyer identified by wallet address.
type User struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	WalletAddress      string          `json:"wallet_address" db:"wallet_address"`
	ReferralCode       string          `json:"referral_code" db:"referral_code"`
	ReferrerID         *uuid.UUID      `json:"referrer_id,omitempty" db:"referrer_id"`
	TotalUsdtPurchased decimal.Decimal `json:"total_usdt_purchased" db:"total_usdt_purchased"`
	TotalPioReceived   decimal.Decimal `json:"total_pio_received" db:"total_pio_received"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// RegisterUserRequest is the body of POST /users/register.
type RegisterUserRequest struct {
	WalletAddress string  `json:"wallet_address" binding:"required"`
	ReferrerCode  *string `json:"referrer_code,omitempty"`
}

// LevelStat aggregates rewards earned at one upline level.
type LevelStat struct {
	Level    int             `json:"level" db:"level"`
	Count    int64           `json:"count" db:"count"`
	Earnings decimal.Decimal `json:"earnings" db:"earnings"`
}

// UserReferralsResponse is the referral dashboard for one wallet.
type UserReferralsResponse struct {
	ReferralCode    string            `json:"referral_code"`
	DirectReferrals int64             `json:"direct_referrals"`
	LevelStats      []LevelStat       `json:"level_stats"`
	TotalEarnings   decimal.Decimal   `json:"total_earnings"`
	PendingEarnings decimal.Decimal   `json:"pending_earnings"`
	RecentRewards   []*ReferralReward `json:"recent_rewards"`
}

// AdminUser is one row of the admin user list.
type AdminUser struct {
	User
	DirectReferrals int64 `json:"direct_referrals" db:"direct_referrals"`
}

// ReferrerInfo identifies the sponsor of a user.
type ReferrerInfo struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	ReferralCode  string    `json:"referral_code"`
}

// TeamLevel lists the downline members at one depth.
type TeamLevel struct {
	Level   int     `json:"level"`
	Count   int     `json:"count"`
	Members []*User `json:"members"`
}

// Team is a user's downline, up to the depth that earns commission.
type Team struct {
	Levels    []TeamLevel `json:"levels"`
	TotalTeam int         `json:"total_team"`
}

// UserEarnings summarises the commission a user has earned.
// Total covers every non-rejected reward.
type UserEarnings struct {
	Levels  []LevelStat       `json:"levels"`
	Total   decimal.Decimal   `json:"total"`
	Pending decimal.Decimal   `json:"pending"`
	Paid    decimal.Decimal   `json:"paid"`
	History []*ReferralReward `json:"history"`
}

// UserDetails is the admin drill-down for one user.
type UserDetails struct {
	User     *User         `json:"user"`
	Referrer *ReferrerInfo `json:"referrer"`
	Orders   []*Order      `json:"orders"`
	Team     Team          `json:"team"`
	Earnings *UserEarnings `json:"earnings"`
}
