// Package settings is the registry of mutable sale parameters and the bonus tier table.
package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/domain/services/pricing"
	"github.com/piogold/ico_service/pkg/crypto"
)

const publicCacheKey = "settings:public"

// DefaultGoldPrice is used when the registry is read before any admin update.
var DefaultGoldPrice = decimal.NewFromInt(85)

// Repository persists the singleton settings row.
type Repository interface {
	Get(ctx context.Context) (*entities.Settings, error)
	CreateIfAbsent(ctx context.Context, s *entities.Settings) error
	Upsert(ctx context.Context, s *entities.Settings) error
}

// OfferRepository persists bonus tiers.
type OfferRepository interface {
	List(ctx context.Context, activeOnly bool) ([]entities.Offer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Offer, error)
	Create(ctx context.Context, o *entities.Offer) error
	Update(ctx context.Context, o *entities.Offer) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Cache is an optional read-through cache for the public payload.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// ChainInfo is the static chain data published with the settings.
type ChainInfo struct {
	PaymentChainID int64
	USDTContract   string
	PayoutChainID  int64
}

// Service is the settings registry.
type Service struct {
	repo     Repository
	offers   OfferRepository
	cache    Cache
	cacheTTL time.Duration
	cipher   *crypto.Cipher
	minUsdt  decimal.Decimal
	chains   ChainInfo
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the registry. cache may be nil.
func NewService(
	repo Repository,
	offers OfferRepository,
	cache Cache,
	cacheTTL time.Duration,
	cipher *crypto.Cipher,
	minUsdt decimal.Decimal,
	chains ChainInfo,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		offers:   offers,
		cache:    cache,
		cacheTTL: cacheTTL,
		cipher:   cipher,
		minUsdt:  minUsdt,
		chains:   chains,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the current settings, creating the default row on first use.
func (s *Service) Get(ctx context.Context) (*entities.Settings, error) {
	current, err := s.repo.Get(ctx)
	if err == nil {
		return current, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	now := s.now().UTC()
	defaults := &entities.Settings{
		ID:               1,
		GoldPricePerGram: DefaultGoldPrice,
		IcoActive:        true,
		IcoStartDate:     now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateIfAbsent(ctx, defaults); err != nil {
		return nil, err
	}
	current, err = s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s.logger.Info("Settings initialized", zap.String("gold_price", current.GoldPricePerGram.String()))
	return current, nil
}

// Snapshot returns the price table used for quoting at this instant.
func (s *Service) Snapshot(ctx context.Context) (pricing.Snapshot, *entities.Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return pricing.Snapshot{}, nil, err
	}
	offers, err := s.offers.List(ctx, true)
	if err != nil {
		return pricing.Snapshot{}, nil, fmt.Errorf("failed to load offers: %w", err)
	}
	return pricing.Snapshot{
		GoldPricePerGram: current.GoldPricePerGram,
		Offers:           offers,
		IcoStartDate:     current.IcoStartDate,
		At:               s.now().UTC(),
	}, current, nil
}

// Public returns the payload for GET /settings/public.
func (s *Service) Public(ctx context.Context) (*entities.PublicSettings, error) {
	if s.cache != nil {
		var cached entities.PublicSettings
		hit, err := s.cache.GetJSON(ctx, publicCacheKey, &cached)
		if err != nil {
			s.logger.Warn("Settings cache read failed", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	snap, current, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	days := current.DaysSinceStart(snap.At)
	visible := make([]entities.Offer, 0, len(snap.Offers))
	for _, o := range snap.Offers {
		if o.ValidOn(days) {
			visible = append(visible, o)
		}
	}

	out := &entities.PublicSettings{
		GoldPricePerGram: current.GoldPricePerGram,
		IcoActive:        current.IcoActive,
		IcoStartDate:     current.IcoStartDate,
		DaysSinceStart:   days,
		TreasuryAddress:  current.TreasuryAddress,
		MinPurchaseUsdt:  s.minUsdt,
		PaymentChainID:   s.chains.PaymentChainID,
		USDTContract:     s.chains.USDTContract,
		PayoutChainID:    s.chains.PayoutChainID,
		Offers:           visible,
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, publicCacheKey, out, s.cacheTTL); err != nil {
			s.logger.Warn("Settings cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

// AdminView returns settings with key material redacted.
func (s *Service) AdminView(ctx context.Context) (*entities.AdminSettingsView, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &entities.AdminSettingsView{Settings: *current, SigningKeyConfigured: current.HasSigningKey()}, nil
}

// Update validates and applies a partial update. Last write wins.
func (s *Service) Update(ctx context.Context, req *entities.UpdateSettingsRequest) (*entities.AdminSettingsView, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := *current

	if req.GoldPricePerGram != nil {
		if !req.GoldPricePerGram.IsPositive() {
			return nil, domainerrors.ValidationError("gold_price_per_gram", "gold price must be greater than zero")
		}
		next.GoldPricePerGram = *req.GoldPricePerGram
	}
	if req.IcoActive != nil {
		next.IcoActive = *req.IcoActive
	}
	if req.IcoStartDate != nil {
		next.IcoStartDate = req.IcoStartDate.UTC()
	}
	if req.TreasuryAddress != nil {
		addr := strings.TrimSpace(*req.TreasuryAddress)
		if addr != "" && !common.IsHexAddress(addr) {
			return nil, domainerrors.InvalidAddressError("treasury_address", addr)
		}
		next.TreasuryAddress = NormalizeAddress(addr)
	}
	if req.SigningPrivateKey != nil && *req.SigningPrivateKey != "" {
		sealed, address, err := s.sealSigningKey(*req.SigningPrivateKey)
		if err != nil {
			return nil, err
		}
		next.EncryptedSigningKey = sealed
		next.SigningAddress = address
	}

	next.UpdatedAt = s.now().UTC()
	if err := s.repo.Upsert(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	s.invalidate(ctx)

	s.logger.Info("Settings updated",
		zap.String("gold_price", next.GoldPricePerGram.String()),
		zap.Bool("ico_active", next.IcoActive),
		zap.String("treasury_address", next.TreasuryAddress),
		zap.Bool("signing_key_rotated", req.SigningPrivateKey != nil && *req.SigningPrivateKey != ""))

	return &entities.AdminSettingsView{Settings: next, SigningKeyConfigured: next.HasSigningKey()}, nil
}

// SetIcoActive pauses or resumes the sale.
func (s *Service) SetIcoActive(ctx context.Context, active bool) (*entities.AdminSettingsView, error) {
	return s.Update(ctx, &entities.UpdateSettingsRequest{IcoActive: &active})
}

// EncryptedSigningKey returns the sealed payout key for the dispatcher.
func (s *Service) EncryptedSigningKey(ctx context.Context) (string, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return "", err
	}
	if !current.HasSigningKey() {
		return "", domainerrors.ServiceUnavailableError("payout signer", fmt.Errorf("signing key is not configured"))
	}
	return current.EncryptedSigningKey, nil
}

// sealSigningKey validates a hex private key and encrypts it. The plaintext
// buffer is zeroed before returning.
func (s *Service) sealSigningKey(raw string) (string, string, error) {
	hexKey := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return "", "", domainerrors.ValidationError("signing_private_key", "signing key is not a valid secp256k1 private key")
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	plain := ethcrypto.FromECDSA(key)
	defer crypto.Zero(plain)

	sealed, err := s.cipher.Seal(plain)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt signing key: %w", err)
	}
	return sealed, NormalizeAddress(address), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, publicCacheKey); err != nil {
		s.logger.Warn("Settings cache invalidation failed", zap.Error(err))
	}
}

// NormalizeAddress lower-cases a hex address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
