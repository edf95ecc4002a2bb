package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralStatus is the payout lifecycle of a commission.
type ReferralStatus string

const (
	ReferralStatusPending  ReferralStatus = "pending"
	ReferralStatusApproved ReferralStatus = "approved"
	ReferralStatusPaid     ReferralStatus = "paid"
	ReferralStatusRejected ReferralStatus = "rejected"
)

var validReferralTransitions = map[ReferralStatus][]ReferralStatus{
	ReferralStatusPending:  {ReferralStatusApproved, ReferralStatusRejected},
	ReferralStatusApproved: {ReferralStatusPaid, ReferralStatusRejected},
	ReferralStatusPaid:     {},
	ReferralStatusRejected: {},
}

// IsValid checks if the status is known
func (s ReferralStatus) IsValid() bool {
	_, ok := validReferralTransitions[s]
	return ok
}

// CanTransitionTo checks if transition to new status is allowed
func (s ReferralStatus) CanTransitionTo(next ReferralStatus) bool {
	for _, allowed := range validReferralTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition validates and returns error if transition is invalid
func (s ReferralStatus) ValidateTransition(next ReferralStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid referral status: %s", next)
	}
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition from %s to %s", s, next)
	}
	return nil
}

// ReferralReward is one commission row, unique per (source order, level).
type ReferralReward struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	BeneficiaryUserID uuid.UUID       `json:"beneficiary_user_id" db:"beneficiary_user_id"`
	BuyerUserID       uuid.UUID       `json:"buyer_user_id" db:"buyer_user_id"`
	SourceOrderID     uuid.UUID       `json:"source_order_id" db:"source_order_id"`
	Level             int             `json:"level" db:"level"`
	UsdtBase          decimal.Decimal `json:"usdt_base" db:"usdt_base"`
	RewardPio         decimal.Decimal `json:"reward_pio" db:"reward_pio"`
	Status            ReferralStatus  `json:"status" db:"status"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// UpdateReferralStatusRequest is the admin body for a referral status change.
type UpdateReferralStatusRequest struct {
	Status ReferralStatus `json:"status" binding:"required"`
}
