package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

// SettingsRepository persists the singleton settings row.
type SettingsRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSettingsRepository creates a settings repository.
func NewSettingsRepository(db *sqlx.DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{db: db, logger: logger}
}

// Get returns the settings row.
func (r *SettingsRepository) Get(ctx context.Context) (*entities.Settings, error) {
	var s entities.Settings
	err := r.db.GetContext(ctx, &s, `
		SELECT id, gold_price_per_gram, ico_active, ico_start_date, treasury_address,
			encrypted_signing_key, signing_address, updated_at
		FROM settings WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("settings")
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &s, nil
}

// CreateIfAbsent inserts s unless the row already exists. An existing row,
// such as one an admin wrote concurrently, is left untouched.
func (r *SettingsRepository) CreateIfAbsent(ctx context.Context, s *entities.Settings) error {
	s.ID = 1
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO settings (id, gold_price_per_gram, ico_active, ico_start_date, treasury_address,
			encrypted_signing_key, signing_address, updated_at)
		VALUES (:id, :gold_price_per_gram, :ico_active, :ico_start_date, :treasury_address,
			:encrypted_signing_key, :signing_address, :updated_at)
		ON CONFLICT (id) DO NOTHING`, s)
	if err != nil {
		r.logger.Error("Failed to create default settings", zap.Error(err))
		return fmt.Errorf("failed to create default settings: %w", err)
	}
	return nil
}

// Upsert writes the settings row.
func (r *SettingsRepository) Upsert(ctx context.Context, s *entities.Settings) error {
	s.ID = 1
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO settings (id, gold_price_per_gram, ico_active, ico_start_date, treasury_address,
			encrypted_signing_key, signing_address, updated_at)
		VALUES (:id, :gold_price_per_gram, :ico_active, :ico_start_date, :treasury_address,
			:encrypted_signing_key, :signing_address, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			gold_price_per_gram = EXCLUDED.gold_price_per_gram,
			ico_active = EXCLUDED.ico_active,
			ico_start_date = EXCLUDED.ico_start_date,
			treasury_address = EXCLUDED.treasury_address,
			encrypted_signing_key = EXCLUDED.encrypted_signing_key,
			signing_address = EXCLUDED.signing_address,
			updated_at = EXCLUDED.updated_at`, s)
	if err != nil {
		r.logger.Error("Failed to save settings", zap.Error(err))
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
