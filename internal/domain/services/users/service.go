// Package users handles buyer registration, referral codes and history views.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/pkg/chainutil"
	"github.com/piogold/ico_service/pkg/crypto"
)

// ReferralAlphabet omits 0/O and 1/I.
const ReferralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 5

const (
	teamDepth       = 3
	teamLevelLimit  = 500
	detailOrderSize = 100
)

// Repository persists users.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	GetByWallet(ctx context.Context, wallet string) (*entities.User, error)
	GetByReferralCode(ctx context.Context, code string) (*entities.User, error)
	Create(ctx context.Context, u *entities.User) error
	ListWithReferralCounts(ctx context.Context, limit, offset int) ([]*entities.AdminUser, error)
	ListByReferrers(ctx context.Context, referrerIDs []uuid.UUID, limit int) ([]*entities.User, error)
}

// OrderLister reads a wallet's order history.
type OrderLister interface {
	List(ctx context.Context, filter entities.OrderFilter) ([]*entities.Order, error)
}

// ReferralSummarizer builds the referral dashboard and admin earnings view.
type ReferralSummarizer interface {
	Summary(ctx context.Context, user *entities.User) (*entities.UserReferralsResponse, error)
	Earnings(ctx context.Context, userID uuid.UUID) (*entities.UserEarnings, error)
}

// Options tunes registration.
type Options struct {
	ReferralRequired bool
	CodeLength       int
}

// Service manages buyers.
type Service struct {
	users     Repository
	orders    OrderLister
	referrals ReferralSummarizer
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the users service.
func NewService(users Repository, orders OrderLister, referrals ReferralSummarizer, opts Options, logger *zap.Logger) *Service {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 8
	}
	return &Service{
		users:     users,
		orders:    orders,
		referrals: referrals,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates a buyer. An already registered wallet is returned as is,
// with created=false, whatever referrer code was sent.
func (s *Service) Register(ctx context.Context, req *entities.RegisterUserRequest) (*entities.User, bool, error) {
	wallet, err := normalizeWallet(req.WalletAddress)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.users.GetByWallet(ctx, wallet)
	if err == nil {
		return existing, false, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to look up wallet: %w", err)
	}

	var code string
	if req.ReferrerCode != nil {
		code = strings.ToUpper(strings.TrimSpace(*req.ReferrerCode))
	}
	if code == "" && s.opts.ReferralRequired {
		return nil, false, domainerrors.ReferralRequiredError()
	}

	var referrerID *uuid.UUID
	if code != "" {
		referrer, err := s.users.GetByReferralCode(ctx, code)
		if err != nil {
			if domainerrors.IsNotFound(err) {
				return nil, false, domainerrors.InvalidReferralCodeError(code)
			}
			return nil, false, fmt.Errorf("failed to look up referral code: %w", err)
		}
		referrerID = &referrer.ID
	}

	return s.create(ctx, wallet, referrerID)
}

// EnsureUser returns the buyer for wallet, registering it without a referrer
// if it has never been seen.
func (s *Service) EnsureUser(ctx context.Context, wallet string) (*entities.User, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByWallet(ctx, wallet)
	if err == nil {
		return u, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up wallet: %w", err)
	}

	u, created, err := s.create(ctx, wallet, nil)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("Auto-registered buyer", zap.String("wallet", wallet))
	}
	return u, nil
}

func (s *Service) create(ctx context.Context, wallet string, referrerID *uuid.UUID) (*entities.User, bool, error) {
	now := s.now().UTC()
	u := &entities.User{
		ID:                 uuid.New(),
		WalletAddress:      wallet,
		ReferrerID:         referrerID,
		TotalUsdtPurchased: decimal.Zero,
		TotalPioReceived:   decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := crypto.RandomString(ReferralAlphabet, s.opts.CodeLength)
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate referral code: %w", err)
		}
		u.ReferralCode = code

		err = s.users.Create(ctx, u)
		switch {
		case err == nil:
			s.logger.Info("User registered",
				zap.String("user_id", u.ID.String()),
				zap.String("wallet", wallet),
				zap.Bool("referred", referrerID != nil))
			return u, true, nil
		case errors.Is(err, domainerrors.ErrDuplicateReferralCode):
			s.logger.Debug("Referral code collision, regenerating", zap.Int("attempt", attempt))
		case errors.Is(err, domainerrors.ErrDuplicateWallet):
			existing, getErr := s.users.GetByWallet(ctx, wallet)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to load concurrently registered wallet: %w", getErr)
			}
			return existing, false, nil
		default:
			return nil, false, fmt.Errorf("failed to create user: %w", err)
		}
	}
	return nil, false, domainerrors.InternalError("could not allocate a unique referral code", domainerrors.ErrDuplicateReferralCode)
}

// GetProfile returns the buyer for wallet.
func (s *Service) GetProfile(ctx context.Context, wallet string) (*entities.User, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	return s.users.GetByWallet(ctx, wallet)
}

// ListOrders returns a wallet's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, wallet string, limit, offset int) ([]*entities.Order, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	return s.orders.List(ctx, entities.OrderFilter{WalletAddress: wallet, Limit: limit, Offset: offset})
}

// Referrals returns the referral dashboard for wallet.
func (s *Service) Referrals(ctx context.Context, wallet string) (*entities.UserReferralsResponse, error) {
	u, err := s.GetProfile(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return s.referrals.Summary(ctx, u)
}

// ListForAdmin returns users newest first with direct referral counts.
func (s *Service) ListForAdmin(ctx context.Context, limit, offset int) ([]*entities.AdminUser, error) {
	return s.users.ListWithReferralCounts(ctx, limit, offset)
}

// Details assembles the admin drill-down: orders, referrer, the downline to
// commission depth and earnings.
func (s *Service) Details(ctx context.Context, id uuid.UUID) (*entities.UserDetails, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &entities.UserDetails{User: u}

	if u.ReferrerID != nil {
		ref, err := s.users.GetByID(ctx, *u.ReferrerID)
		switch {
		case err == nil:
			details.Referrer = &entities.ReferrerInfo{ID: ref.ID, WalletAddress: ref.WalletAddress, ReferralCode: ref.ReferralCode}
		case domainerrors.IsNotFound(err):
			s.logger.Warn("Referrer missing", zap.String("user_id", u.ID.String()), zap.String("referrer_id", u.ReferrerID.String()))
		default:
			return nil, fmt.Errorf("failed to load referrer: %w", err)
		}
	}

	details.Orders, err = s.orders.List(ctx, entities.OrderFilter{WalletAddress: u.WalletAddress, Limit: detailOrderSize})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	details.Team, err = s.team(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	details.Earnings, err = s.referrals.Earnings(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return details, nil
}

// team walks the downline one level at a time.
func (s *Service) team(ctx context.Context, root uuid.UUID) (entities.Team, error) {
	team := entities.Team{Levels: make([]entities.TeamLevel, 0, teamDepth)}
	parents := []uuid.UUID{root}
	for level := 1; level <= teamDepth; level++ {
		members, err := s.users.ListByReferrers(ctx, parents, teamLevelLimit)
		if err != nil {
			return entities.Team{}, fmt.Errorf("failed to load level %d team: %w", level, err)
		}
		team.Levels = append(team.Levels, entities.TeamLevel{Level: level, Count: len(members), Members: members})
		team.TotalTeam += len(members)

		next := make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			next = append(next, m.ID)
		}
		parents = next
	}
	return team, nil
}

func normalizeWallet(wallet string) (string, error) {
	wallet = strings.TrimSpace(wallet)
	if !chainutil.IsAddress(wallet) {
		return "", domainerrors.InvalidAddressError("wallet_address", wallet)
	}
	return chainutil.Normalize(wallet), nil
}
