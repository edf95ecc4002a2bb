// Package admin manages operator accounts and the dashboard read models.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/pkg/auth"
	"github.com/piogold/ico_service/pkg/crypto"
)

// Repository persists admin accounts.
type Repository interface {
	// CreateFirst inserts a only if no admin exists yet.
	CreateFirst(ctx context.Context, a *entities.Admin) (bool, error)
	GetByUsername(ctx context.Context, username string) (*entities.Admin, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Admin, error)
	SetTOTP(ctx context.Context, id uuid.UUID, sealedSecret string, enabled bool) error
}

// StatsReader aggregates the dashboard numbers.
type StatsReader interface {
	Stats(ctx context.Context) (*entities.AdminStats, error)
}

// TransactionLister reads the chain transaction journal.
type TransactionLister interface {
	List(ctx context.Context, chain string, limit, offset int) ([]*entities.ChainTransaction, error)
}

// OfferSeeder installs the default tier table.
type OfferSeeder interface {
	SeedDefaultOffers(ctx context.Context) error
}

// TokenConfig controls issued access tokens.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Service handles admin accounts.
type Service struct {
	admins Repository
	stats  StatsReader
	txs    TransactionLister
	offers OfferSeeder
	cipher *crypto.Cipher
	tokens TokenConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the admin service. cipher seals authenticator secrets.
func NewService(
	admins Repository,
	stats StatsReader,
	txs TransactionLister,
	offers OfferSeeder,
	cipher *crypto.Cipher,
	tokens TokenConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		admins: admins,
		stats:  stats,
		txs:    txs,
		offers: offers,
		cipher: cipher,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Setup creates the first administrator and seeds the default tiers.
func (s *Service) Setup(ctx context.Context, creds *entities.AdminCredentials) (*entities.Admin, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" {
		return nil, domainerrors.ValidationError("username", "username is required")
	}
	hash, err := crypto.HashPassword(creds.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	a := &entities.Admin{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	created, err := s.admins.CreateFirst(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	if !created {
		return nil, domainerrors.ForbiddenError("an administrator is already configured")
	}

	if err := s.offers.SeedDefaultOffers(ctx); err != nil {
		s.logger.Error("Failed to seed default offers", zap.Error(err))
	}
	s.logger.Info("Administrator created", zap.String("admin_id", a.ID.String()), zap.String("username", username))
	return a, nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, creds *entities.AdminCredentials) (*auth.Token, error) {
	a, err := s.admins.GetByUsername(ctx, strings.TrimSpace(creds.Username))
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return nil, domainerrors.UnauthorizedError("invalid username or password")
		}
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	if !crypto.ValidatePassword(creds.Password, a.PasswordHash) {
		s.logger.Warn("Admin login rejected", zap.String("username", a.Username))
		return nil, domainerrors.UnauthorizedError("invalid username or password")
	}
	if a.TOTPEnabled {
		if err := s.checkCode(a, creds.TOTPCode); err != nil {
			return nil, err
		}
	}
	return auth.IssueToken(a.ID, a.Username, s.tokens.Secret, s.tokens.Issuer, s.tokens.TTL)
}

// Stats returns the dashboard summary.
func (s *Service) Stats(ctx context.Context) (*entities.AdminStats, error) {
	return s.stats.Stats(ctx)
}

// ListTransactions returns journaled chain legs, optionally for one chain.
func (s *Service) ListTransactions(ctx context.Context, chain string, limit, offset int) ([]*entities.ChainTransaction, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	switch chain {
	case "", entities.ChainBSC, entities.ChainPioGold:
	default:
		return nil, domainerrors.ValidationError("chain", "chain must be bsc or piogold")
	}
	return s.txs.List(ctx, chain, limit, offset)
}
