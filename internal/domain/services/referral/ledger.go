// Package referral computes and administers the three-level commission cascade.
package referral

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/domain/services/pricing"
	"github.com/piogold/ico_service/pkg/metrics"
)

// MaxLevels is the depth of the upline walk.
const MaxLevels = 3

var rates = map[int]decimal.Decimal{
	1: decimal.RequireFromString("0.10"),
	2: decimal.RequireFromString("0.05"),
	3: decimal.RequireFromString("0.03"),
}

// Rate returns the commission rate for an upline level, zero outside 1..3.
func Rate(level int) decimal.Decimal {
	if r, ok := rates[level]; ok {
		return r
	}
	return decimal.Zero
}

// RewardFor is usdtBase * rate(level) / goldPrice, truncated to PIO precision.
func RewardFor(usdtBase, goldPrice decimal.Decimal, level int) decimal.Decimal {
	return pricing.Truncate(usdtBase.Mul(Rate(level)), goldPrice)
}

// UserLookup resolves uplines and referral counts.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	CountReferrals(ctx context.Context, referrerID uuid.UUID) (int64, error)
}

// RewardStore persists commission rows outside of settlement.
type RewardStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.ReferralReward, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.ReferralStatus) (bool, error)
	List(ctx context.Context, status *entities.ReferralStatus, limit, offset int) ([]*entities.ReferralReward, error)
	ListByBeneficiary(ctx context.Context, beneficiaryID uuid.UUID, limit int) ([]*entities.ReferralReward, error)
	LevelStats(ctx context.Context, beneficiaryID uuid.UUID) ([]entities.LevelStat, error)
	EarningsByStatus(ctx context.Context, beneficiaryID uuid.UUID) (map[entities.ReferralStatus]decimal.Decimal, error)
}

// Ledger builds commission rows and administers their status.
type Ledger struct {
	users   UserLookup
	rewards RewardStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedger creates a ledger.
func NewLedger(users UserLookup, rewards RewardStore, logger *zap.Logger) *Ledger {
	return &Ledger{users: users, rewards: rewards, logger: logger, now: time.Now}
}

// Credit walks the buyer's upline and returns one pending reward per level found.
// The rows are written by the order store in the same transaction that marks
// the order settled, so a retry cannot post them twice.
func (l *Ledger) Credit(ctx context.Context, order *entities.Order) ([]*entities.ReferralReward, error) {
	buyer, err := l.users.GetByID(ctx, order.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer: %w", err)
	}
	if !order.GoldPrice.IsPositive() {
		return nil, fmt.Errorf("order %s has no frozen gold price", order.ID)
	}

	now := l.now().UTC()
	seen := map[uuid.UUID]bool{buyer.ID: true}
	var rewards []*entities.ReferralReward

	next := buyer.ReferrerID
	for level := 1; level <= MaxLevels && next != nil; level++ {
		if seen[*next] {
			l.logger.Warn("Referral cycle detected, stopping upline walk",
				zap.String("order_id", order.ID.String()),
				zap.String("user_id", next.String()))
			break
		}
		seen[*next] = true

		upline, err := l.users.GetByID(ctx, *next)
		if err != nil {
			if domainerrors.IsNotFound(err) {
				break
			}
			return nil, fmt.Errorf("failed to load level %d referrer: %w", level, err)
		}

		rewards = append(rewards, &entities.ReferralReward{
			ID:                uuid.New(),
			BeneficiaryUserID: upline.ID,
			BuyerUserID:       buyer.ID,
			SourceOrderID:     order.ID,
			Level:             level,
			UsdtBase:          order.UsdtAmount,
			RewardPio:         RewardFor(order.UsdtAmount, order.GoldPrice, level),
			Status:            entities.ReferralStatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		next = upline.ReferrerID
	}

	return rewards, nil
}

// Posted records metrics once rewards were committed.
func (l *Ledger) Posted(rewards []*entities.ReferralReward) {
	for _, r := range rewards {
		metrics.ReferralRewardsCreated.WithLabelValues(strconv.Itoa(r.Level)).Inc()
	}
}

// UpdateStatus moves a reward along pending -> approved -> paid, or to rejected.
func (l *Ledger) UpdateStatus(ctx context.Context, id uuid.UUID, next entities.ReferralStatus) (*entities.ReferralReward, error) {
	reward, err := l.rewards.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := reward.Status.ValidateTransition(next); err != nil {
		return nil, domainerrors.InvalidTransitionError("referral reward", string(reward.Status), string(next))
	}

	ok, err := l.rewards.UpdateStatus(ctx, id, reward.Status, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update referral status: %w", err)
	}
	if !ok {
		return nil, domainerrors.ConflictError("referral reward", "status changed concurrently")
	}

	l.logger.Info("Referral reward status updated",
		zap.String("reward_id", id.String()),
		zap.String("from", string(reward.Status)),
		zap.String("to", string(next)))

	reward.Status = next
	reward.UpdatedAt = l.now().UTC()
	return reward, nil
}

// List returns rewards for the admin view.
func (l *Ledger) List(ctx context.Context, status *entities.ReferralStatus, limit, offset int) ([]*entities.ReferralReward, error) {
	return l.rewards.List(ctx, status, limit, offset)
}

// Summary builds the referral dashboard for one user.
func (l *Ledger) Summary(ctx context.Context, user *entities.User) (*entities.UserReferralsResponse, error) {
	direct, err := l.users.CountReferrals(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	stats, err := l.rewards.LevelStats(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load level stats: %w", err)
	}
	byStatus, err := l.rewards.EarningsByStatus(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load earnings: %w", err)
	}
	recent, err := l.rewards.ListByBeneficiary(ctx, user.ID, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent rewards: %w", err)
	}

	return &entities.UserReferralsResponse{
		ReferralCode:    user.ReferralCode,
		DirectReferrals: direct,
		LevelStats:      fillLevels(stats),
		TotalEarnings:   byStatus[entities.ReferralStatusApproved].Add(byStatus[entities.ReferralStatusPaid]),
		PendingEarnings: byStatus[entities.ReferralStatusPending],
		RecentRewards:   recent,
	}, nil
}

// Earnings returns per-level totals, status totals and the latest rewards
// earned by userID.
func (l *Ledger) Earnings(ctx context.Context, userID uuid.UUID) (*entities.UserEarnings, error) {
	stats, err := l.rewards.LevelStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load level stats: %w", err)
	}
	byStatus, err := l.rewards.EarningsByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load earnings: %w", err)
	}
	history, err := l.rewards.ListByBeneficiary(ctx, userID, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to load reward history: %w", err)
	}

	levels := fillLevels(stats)
	total := decimal.Zero
	for _, s := range levels {
		total = total.Add(s.Earnings)
	}
	return &entities.UserEarnings{
		Levels:  levels,
		Total:   total,
		Pending: byStatus[entities.ReferralStatusPending],
		Paid:    byStatus[entities.ReferralStatusPaid],
		History: history,
	}, nil
}

// fillLevels returns one row per level so views always render all three.
func fillLevels(stats []entities.LevelStat) []entities.LevelStat {
	full := make([]entities.LevelStat, MaxLevels)
	for i := range full {
		full[i] = entities.LevelStat{Level: i + 1, Earnings: decimal.Zero}
	}
	for _, s := range stats {
		if s.Level >= 1 && s.Level <= MaxLevels {
			full[s.Level-1] = s
		}
	}
	return full
}
