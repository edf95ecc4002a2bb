// Package orders is the settlement state machine. It owns every order
// transition; other components only read orders or act when asked.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/domain/services/payment"
	"github.com/piogold/ico_service/internal/domain/services/payout"
	"github.com/piogold/ico_service/internal/domain/services/pricing"
	"github.com/piogold/ico_service/pkg/chainutil"
	"github.com/piogold/ico_service/pkg/metrics"
	"github.com/piogold/ico_service/pkg/tracing"
)

const tracerName = "piogold-ico/orders"

// Store persists orders. Transitions are compare-and-swap on the current status.
type Store interface {
	Create(ctx context.Context, o *entities.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Order, error)
	GetByPaymentTxHash(ctx context.Context, txHash string) (*entities.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from, to entities.OrderStatus, update entities.OrderUpdate) (bool, error)
	// SetPayoutTxHash records a signed payout while the order is PROCESSING_PAYOUT
	// under the given payout attempt.
	SetPayoutTxHash(ctx context.Context, id uuid.UUID, attempt int, txHash string) error
	SetError(ctx context.Context, id uuid.UUID, status entities.OrderStatus, message string) error
	// Settle marks the order COMPLETED, inserts the rewards and bumps the buyer's
	// totals in one transaction. It returns false if the order was already settled.
	Settle(ctx context.Context, id uuid.UUID, payoutTxHash string, rewards []*entities.ReferralReward) (bool, error)
	// ClaimRequeue bumps payout_attempt and clears the payout hash if the attempt still matches.
	ClaimRequeue(ctx context.Context, id uuid.UUID, expectedAttempt int) (bool, error)
	List(ctx context.Context, filter entities.OrderFilter) ([]*entities.Order, error)
	ListStale(ctx context.Context, statuses []entities.OrderStatus, updatedBefore time.Time, limit int) ([]*entities.Order, error)
}

// Journal records the on-chain legs of an order.
type Journal interface {
	Record(ctx context.Context, tx *entities.ChainTransaction) error
}

// SettingsReader supplies the live price table and sale switches.
type SettingsReader interface {
	Snapshot(ctx context.Context) (pricing.Snapshot, *entities.Settings, error)
}

// UserResolver registers unknown buyers on first purchase.
type UserResolver interface {
	EnsureUser(ctx context.Context, wallet string) (*entities.User, error)
}

// PaymentWatcher confirms the buyer's payment.
type PaymentWatcher interface {
	Watch(ctx context.Context, req payment.Request) (*payment.Confirmation, error)
}

// PayoutDispatcher sends PIO.
type PayoutDispatcher interface {
	Dispatch(ctx context.Context, req payout.Request) (*payout.Result, error)
	AwaitConfirmation(ctx context.Context, txHash string) (*payout.Result, error)
	Known(ctx context.Context, txHash string) (bool, error)
}

// ReferralCreditor builds commission rows.
type ReferralCreditor interface {
	Credit(ctx context.Context, order *entities.Order) ([]*entities.ReferralReward, error)
	Posted(rewards []*entities.ReferralReward)
}

// Scheduler runs order work asynchronously, at most one task per order at a time.
type Scheduler interface {
	// Schedule runs Process for the order.
	Schedule(id uuid.UUID)
	// ScheduleFunc runs fn in place of Process.
	ScheduleFunc(id uuid.UUID, fn func(ctx context.Context) error)
}

// Service is the order orchestrator.
type Service struct {
	store     Store
	journal   Journal
	settings  SettingsReader
	users     UserResolver
	engine    *pricing.Engine
	watcher   PaymentWatcher
	payouts   PayoutDispatcher
	referrals ReferralCreditor
	scheduler Scheduler
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the orchestrator. Call SetScheduler before serving traffic.
func NewService(
	store Store,
	journal Journal,
	settings SettingsReader,
	users UserResolver,
	engine *pricing.Engine,
	watcher PaymentWatcher,
	payouts PayoutDispatcher,
	referrals ReferralCreditor,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:     store,
		journal:   journal,
		settings:  settings,
		users:     users,
		engine:    engine,
		watcher:   watcher,
		payouts:   payouts,
		referrals: referrals,
		logger:    logger,
		now:       time.Now,
	}
}

// SetScheduler wires the worker pool that drives Process.
func (s *Service) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// Calculate returns a live quote without creating anything.
func (s *Service) Calculate(ctx context.Context, usdtAmount decimal.Decimal) (*entities.Quote, error) {
	snap, _, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Quote(usdtAmount, snap)
}

// Create registers an order for a submitted payment. The same payment hash
// always yields the same order; created reports whether this call made it.
func (s *Service) Create(ctx context.Context, req *entities.CreateOrderRequest) (order *entities.Order, created bool, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "orders.create")
	defer func() { tracing.EndSpan(span, err) }()

	wallet := strings.TrimSpace(req.WalletAddress)
	if !chainutil.IsAddress(wallet) {
		return nil, false, domainerrors.InvalidAddressError("wallet_address", wallet)
	}
	wallet = chainutil.Normalize(wallet)

	txHash := strings.TrimSpace(req.TxHash)
	if !chainutil.IsTxHash(txHash) {
		return nil, false, domainerrors.InvalidTxHashError(txHash)
	}
	txHash = chainutil.Normalize(txHash)
	span.SetAttributes(attribute.String("payment.tx_hash", txHash))

	if existing, err := s.existing(ctx, txHash, wallet); existing != nil || err != nil {
		return existing, false, err
	}

	snap, current, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	if !current.IcoActive {
		return nil, false, domainerrors.IcoPausedError()
	}
	if current.TreasuryAddress == "" {
		return nil, false, domainerrors.TreasuryNotConfiguredError()
	}

	quote, err := s.engine.Quote(req.UsdtAmount, snap)
	if err != nil {
		return nil, false, err
	}

	user, err := s.users.EnsureUser(ctx, wallet)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	order = &entities.Order{
		ID:              uuid.New(),
		UserID:          user.ID,
		WalletAddress:   wallet,
		UsdtAmount:      req.UsdtAmount,
		PaymentTxHash:   txHash,
		TreasuryAddress: chainutil.Normalize(current.TreasuryAddress),
		Status:          entities.OrderStatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.ApplyQuote(quote)

	if err := s.store.Create(ctx, order); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicatePaymentTx) {
			existing, getErr := s.existing(ctx, txHash, wallet)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create order: %w", err)
	}

	s.record(ctx, &entities.ChainTransaction{
		OrderID:     order.ID,
		Chain:       entities.ChainBSC,
		TxType:      entities.TxTypeUSDTPayment,
		TxHash:      txHash,
		FromAddress: wallet,
		ToAddress:   order.TreasuryAddress,
		Amount:      order.UsdtAmount,
		Status:      entities.ChainTxStatusPending,
	})

	metrics.OrdersCreated.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("wallet", wallet),
		zap.String("usdt_amount", order.UsdtAmount.String()),
		zap.String("total_pio", order.TotalPio.String()))

	s.schedule(order.ID)
	return order, true, nil
}

// existing returns the order already bound to txHash. A hash bound to a
// different wallet is a conflict.
func (s *Service) existing(ctx context.Context, txHash, wallet string) (*entities.Order, error) {
	o, err := s.store.GetByPaymentTxHash(ctx, txHash)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up payment hash: %w", err)
	}
	if o.WalletAddress != wallet {
		return nil, domainerrors.ConflictError("order", "payment transaction already claimed by another wallet")
	}
	return o, nil
}

// Get returns the current order snapshot.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entities.Order, error) {
	return s.store.GetByID(ctx, id)
}

// List returns orders for the admin listing.
func (s *Service) List(ctx context.Context, filter entities.OrderFilter) ([]*entities.Order, error) {
	return s.store.List(ctx, filter)
}

// Recoverable lists orders the sweep should resume. Payouts with no recorded
// hash are excluded; they only move on an admin requeue.
func (s *Service) Recoverable(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	stale, err := s.store.ListStale(ctx, entities.NonTerminalOrderStatuses(), s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(stale))
	for _, o := range stale {
		if o.Status == entities.OrderStatusProcessingPayout && !o.HasPayoutHash() {
			continue
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s *Service) schedule(id uuid.UUID) {
	if s.scheduler == nil {
		s.logger.Warn("No scheduler wired, order left for the recovery sweep", zap.String("order_id", id.String()))
		return
	}
	s.scheduler.Schedule(id)
}

func (s *Service) record(ctx context.Context, tx *entities.ChainTransaction) {
	if s.journal == nil {
		return
	}
	now := s.now().UTC()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt, tx.UpdatedAt = now, now
	if err := s.journal.Record(ctx, tx); err != nil {
		s.logger.Warn("Failed to journal chain transaction",
			zap.String("order_id", tx.OrderID.String()),
			zap.String("tx_hash", tx.TxHash),
			zap.Error(err))
	}
}
