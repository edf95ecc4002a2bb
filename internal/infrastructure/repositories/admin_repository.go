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
)

const adminColumns = `id, username, password_hash, totp_secret, totp_enabled, created_at`

// AdminRepository persists operator accounts and serves dashboard aggregates.
type AdminRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewAdminRepository creates an admin repository.
func NewAdminRepository(db *sqlx.DB, logger *zap.Logger) *AdminRepository {
	return &AdminRepository{db: db, logger: logger}
}

// CreateFirst inserts a only when the admins table is empty.
func (r *AdminRepository) CreateFirst(ctx context.Context, a *entities.Admin) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (id, username, password_hash, created_at)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (SELECT 1 FROM admins)`,
		a.ID, a.Username, a.PasswordHash, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}
	return affected(res)
}

// GetByUsername returns an admin by username.
func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (*entities.Admin, error) {
	var a entities.Admin
	err := r.db.GetContext(ctx, &a, `SELECT `+adminColumns+` FROM admins WHERE username = $1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("admin")
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &a, nil
}

// GetByID returns an admin by id.
func (r *AdminRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Admin, error) {
	var a entities.Admin
	err := r.db.GetContext(ctx, &a, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("admin")
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &a, nil
}

// SetTOTP stores the sealed authenticator secret and its enabled flag.
func (r *AdminRepository) SetTOTP(ctx context.Context, id uuid.UUID, sealedSecret string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE admins SET totp_secret = $2, totp_enabled = $3 WHERE id = $1`,
		id, sealedSecret, enabled)
	if err != nil {
		return fmt.Errorf("failed to update admin totp: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domainerrors.NotFoundError("admin")
	}
	return nil
}

// Stats aggregates the dashboard numbers in one round trip.
func (r *AdminRepository) Stats(ctx context.Context) (*entities.AdminStats, error) {
	var s entities.AdminStats
	err := r.db.GetContext(ctx, &s, `
		SELECT
			(SELECT COUNT(*) FROM users) AS total_users,
			(SELECT COUNT(*) FROM orders) AS total_orders,
			(SELECT COUNT(*) FROM orders WHERE status = 'COMPLETED') AS completed_orders,
			(SELECT COUNT(*) FROM orders WHERE status LIKE 'FAILED\_%') AS failed_orders,
			(SELECT COALESCE(SUM(usdt_amount), 0) FROM orders WHERE status = 'COMPLETED') AS total_usdt_raised,
			(SELECT COALESCE(SUM(total_pio), 0) FROM orders WHERE status = 'COMPLETED') AS total_pio_sold,
			(SELECT COUNT(*) FROM referral_rewards WHERE status = 'pending') AS pending_referrals,
			(SELECT COALESCE(SUM(reward_pio), 0) FROM referral_rewards WHERE status = 'pending') AS pending_referral_pio`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	return &s, nil
}
