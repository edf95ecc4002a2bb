package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/infrastructure/database"
)

const userColumns = `id, wallet_address, referral_code, referrer_id,
	total_usdt_purchased, total_pio_received, created_at, updated_at`

// UserRepository persists buyers.
type UserRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Create inserts a user, mapping unique violations to domain sentinels.
func (r *UserRepository) Create(ctx context.Context, u *entities.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :wallet_address, :referral_code, :referrer_id,
			:total_usdt_purchased, :total_pio_received, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, u); err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			if constraint == "users_referral_code_key" {
				return domainerrors.ErrDuplicateReferralCode
			}
			return domainerrors.ErrDuplicateWallet
		}
		r.logger.Error("Failed to create user", zap.Error(err), zap.String("wallet", u.WalletAddress))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID returns a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByWallet returns a user by normalized wallet address.
func (r *UserRepository) GetByWallet(ctx context.Context, wallet string) (*entities.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, wallet)
}

// GetByReferralCode returns the owner of a referral code.
func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*entities.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = UPPER($1)`, code)
}

// CountReferrals counts direct referrals of a user.
func (r *UserRepository) CountReferrals(ctx context.Context, referrerID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE referrer_id = $1`, referrerID); err != nil {
		return 0, fmt.Errorf("failed to count referrals: %w", err)
	}
	return n, nil
}

// ListWithReferralCounts returns users newest first with their direct referral count.
func (r *UserRepository) ListWithReferralCounts(ctx context.Context, limit, offset int) ([]*entities.AdminUser, error) {
	users := []*entities.AdminUser{}
	err := r.db.SelectContext(ctx, &users, `
		SELECT u.id, u.wallet_address, u.referral_code, u.referrer_id,
			u.total_usdt_purchased, u.total_pio_received, u.created_at, u.updated_at,
			COUNT(d.id) AS direct_referrals
		FROM users u
		LEFT JOIN users d ON d.referrer_id = u.id
		GROUP BY u.id
		ORDER BY u.created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ListByReferrers returns the users sponsored by any of referrerIDs.
func (r *UserRepository) ListByReferrers(ctx context.Context, referrerIDs []uuid.UUID, limit int) ([]*entities.User, error) {
	users := []*entities.User{}
	if len(referrerIDs) == 0 {
		return users, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users
		WHERE referrer_id IN (?) ORDER BY created_at DESC LIMIT ?`, referrerIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build downline query: %w", err)
	}
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list downline: %w", err)
	}
	return users, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.User, error) {
	var u entities.User
	if err := r.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("user")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
