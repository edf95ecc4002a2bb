package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

const rewardColumns = `id, beneficiary_user_id, buyer_user_id, source_order_id, level,
	usdt_base, reward_pio, status, created_at, updated_at`

// ReferralRepository persists referral rewards outside of settlement.
type ReferralRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewReferralRepository creates a referral repository.
func NewReferralRepository(db *sqlx.DB, logger *zap.Logger) *ReferralRepository {
	return &ReferralRepository{db: db, logger: logger}
}

// insertRewards writes rewards inside the settlement transaction. The
// (source_order_id, level) key makes a replay a no-op.
func insertRewards(ctx context.Context, tx *sqlx.Tx, rewards []*entities.ReferralReward) error {
	for _, rw := range rewards {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO referral_rewards (`+rewardColumns+`)
			VALUES (:id, :beneficiary_user_id, :buyer_user_id, :source_order_id, :level,
				:usdt_base, :reward_pio, :status, :created_at, :updated_at)
			ON CONFLICT (source_order_id, level) DO NOTHING`, rw)
		if err != nil {
			return fmt.Errorf("failed to insert level %d reward: %w", rw.Level, err)
		}
	}
	return nil
}

// GetByID returns one reward.
func (r *ReferralRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.ReferralReward, error) {
	var rw entities.ReferralReward
	if err := r.db.GetContext(ctx, &rw, `SELECT `+rewardColumns+` FROM referral_rewards WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("referral reward")
		}
		return nil, fmt.Errorf("failed to get referral reward: %w", err)
	}
	return &rw, nil
}

// UpdateStatus moves a reward from one status to another if it is still in from.
func (r *ReferralRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.ReferralStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE referral_rewards SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update referral reward: %w", err)
	}
	return affected(res)
}

// List returns rewards, newest first, optionally filtered by status.
func (r *ReferralRepository) List(ctx context.Context, status *entities.ReferralStatus, limit, offset int) ([]*entities.ReferralReward, error) {
	limit, offset = page(limit, offset)
	rewards := []*entities.ReferralReward{}
	var err error
	if status != nil {
		err = r.db.SelectContext(ctx, &rewards, `
			SELECT `+rewardColumns+` FROM referral_rewards
			WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, *status, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &rewards, `
			SELECT `+rewardColumns+` FROM referral_rewards
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list referral rewards: %w", err)
	}
	return rewards, nil
}

// ListByBeneficiary returns a user's most recent rewards.
func (r *ReferralRepository) ListByBeneficiary(ctx context.Context, beneficiaryID uuid.UUID, limit int) ([]*entities.ReferralReward, error) {
	rewards := []*entities.ReferralReward{}
	err := r.db.SelectContext(ctx, &rewards, `
		SELECT `+rewardColumns+` FROM referral_rewards
		WHERE beneficiary_user_id = $1 ORDER BY created_at DESC LIMIT $2`, beneficiaryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards for user: %w", err)
	}
	return rewards, nil
}

// LevelStats aggregates non-rejected rewards per level.
func (r *ReferralRepository) LevelStats(ctx context.Context, beneficiaryID uuid.UUID) ([]entities.LevelStat, error) {
	stats := []entities.LevelStat{}
	err := r.db.SelectContext(ctx, &stats, `
		SELECT level, COUNT(*) AS count, COALESCE(SUM(reward_pio), 0) AS earnings
		FROM referral_rewards
		WHERE beneficiary_user_id = $1 AND status <> 'rejected'
		GROUP BY level ORDER BY level`, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate referral levels: %w", err)
	}
	return stats, nil
}

// EarningsByStatus sums a user's rewards per status.
func (r *ReferralRepository) EarningsByStatus(ctx context.Context, beneficiaryID uuid.UUID) (map[entities.ReferralStatus]decimal.Decimal, error) {
	var rows []struct {
		Status entities.ReferralStatus `db:"status"`
		Total  decimal.Decimal         `db:"total"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COALESCE(SUM(reward_pio), 0) AS total
		FROM referral_rewards WHERE beneficiary_user_id = $1 GROUP BY status`, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum referral earnings: %w", err)
	}
	out := make(map[entities.ReferralStatus]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
