package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/domain/services/payment"
	"github.com/piogold/ico_service/internal/domain/services/payout"
	"github.com/piogold/ico_service/internal/domain/services/pricing"
	"github.com/piogold/ico_service/pkg/chainutil"
	"github.com/piogold/ico_service/pkg/metrics"
	"github.com/piogold/ico_service/pkg/retry"
	"github.com/piogold/ico_service/pkg/tracing"
)

// maxSteps bounds one Process call; the full happy path takes four.
const maxSteps = 8

// Process drives an order as far as it can go. It is safe to call
// concurrently and repeatedly: every step re-reads the order and every
// transition is a compare-and-swap, so a losing caller simply stops.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "orders.process", attribute.String("order.id", id.String()))
	defer func() { tracing.EndSpan(span, err) }()

	for i := 0; i < maxSteps; i++ {
		order, err := s.store.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load order %s: %w", id, err)
		}
		done, err := s.step(ctx, order)
		if err != nil || done {
			return err
		}
	}
	return nil
}

func (s *Service) step(ctx context.Context, o *entities.Order) (bool, error) {
	switch o.Status {
	case entities.OrderStatusCreated:
		_, err := s.advance(ctx, o, entities.OrderStatusPendingVerification, entities.OrderUpdate{})
		return false, err
	case entities.OrderStatusPendingVerification:
		return s.verify(ctx, o)
	case entities.OrderStatusVerified:
		return s.startPayout(ctx, o)
	case entities.OrderStatusProcessingPayout:
		return s.resumePayout(ctx, o)
	default:
		return true, nil
	}
}

// advance applies one CAS transition. ok is false when another worker moved
// the order first.
func (s *Service) advance(ctx context.Context, o *entities.Order, to entities.OrderStatus, update entities.OrderUpdate) (bool, error) {
	if err := o.Status.ValidateTransition(to); err != nil {
		return false, domainerrors.InvalidTransitionError("order", string(o.Status), string(to))
	}
	ok, err := s.store.Transition(ctx, o.ID, o.Status, to, update)
	if err != nil {
		return false, fmt.Errorf("failed to move order %s to %s: %w", o.ID, to, err)
	}
	if !ok {
		s.logger.Debug("Order transition lost the race",
			zap.String("order_id", o.ID.String()),
			zap.String("from", string(o.Status)),
			zap.String("to", string(to)))
		return false, nil
	}
	metrics.OrderTransitions.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order transitioned",
		zap.String("order_id", o.ID.String()),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)))
	return true, nil
}

func (s *Service) fail(ctx context.Context, o *entities.Order, to entities.OrderStatus, cause error) (bool, error) {
	msg := failureMessage(cause)
	if _, err := s.advance(ctx, o, to, entities.OrderUpdate{Error: &msg}); err != nil {
		return true, err
	}
	s.logger.Warn("Order failed",
		zap.String("order_id", o.ID.String()),
		zap.String("status", string(to)),
		zap.String("reason", msg))
	return true, nil
}

func (s *Service) verify(ctx context.Context, o *entities.Order) (done bool, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "orders.verify_payment", attribute.String("order.id", o.ID.String()))
	defer func() { tracing.EndSpan(span, err) }()

	conf, err := s.watcher.Watch(ctx, payment.Request{
		OrderID:        o.ID,
		TxHash:         o.PaymentTxHash,
		Treasury:       o.TreasuryAddress,
		ExpectedSender: o.WalletAddress,
		ExpectedAmount: o.UsdtAmount,
	})
	switch {
	case err == nil:
	case domainerrors.IsPaymentMismatch(err):
		s.journalPayment(ctx, o, entities.ChainTxStatusFailed)
		return s.fail(ctx, o, entities.OrderStatusFailedPaymentMismatch, err)
	case domainerrors.IsPaymentNotFound(err):
		s.journalPayment(ctx, o, entities.ChainTxStatusFailed)
		return s.fail(ctx, o, entities.OrderStatusFailedPaymentNotFound, err)
	default:
		// Cancellation or an unexpected error: the sweep resumes the watch later.
		return true, err
	}

	s.logger.Info("Payment confirmed",
		zap.String("order_id", o.ID.String()),
		zap.Uint64("block", conf.BlockNumber),
		zap.Uint64("confirmations", conf.Confirmations))
	s.journalPayment(ctx, o, entities.ChainTxStatusConfirmed)

	_, err = s.advance(ctx, o, entities.OrderStatusVerified, entities.OrderUpdate{})
	return false, err
}

// startPayout claims the order for payout. Only the caller that wins the
// VERIFIED -> PROCESSING_PAYOUT swap dispatches.
func (s *Service) startPayout(ctx context.Context, o *entities.Order) (bool, error) {
	ok, err := s.advance(ctx, o, entities.OrderStatusProcessingPayout, entities.OrderUpdate{})
	if err != nil || !ok {
		return true, err
	}
	o.Status = entities.OrderStatusProcessingPayout
	return s.dispatch(ctx, o)
}

func (s *Service) dispatch(ctx context.Context, o *entities.Order) (done bool, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "orders.dispatch_payout",
		attribute.String("order.id", o.ID.String()),
		attribute.Int("payout.attempt", o.PayoutAttempt))
	defer func() { tracing.EndSpan(span, err) }()

	quote := pricing.FromOrder(o)
	attempt := o.PayoutAttempt
	res, err := s.payouts.Dispatch(ctx, payout.Request{
		OrderID:   o.ID,
		Recipient: o.WalletAddress,
		Amount:    quote.TotalPio,
		OnSigned: func(ctx context.Context, txHash string) error {
			err := s.store.SetPayoutTxHash(ctx, o.ID, attempt, chainutil.Normalize(txHash))
			if errors.Is(err, domainerrors.ErrStalePayoutAttempt) {
				return retry.Permanent(err)
			}
			return err
		},
	})
	return s.finishPayout(ctx, o, res, err)
}

// resumePayout picks up a payout that was broadcast but never settled.
func (s *Service) resumePayout(ctx context.Context, o *entities.Order) (bool, error) {
	if o.SettlementApplied {
		return true, nil
	}
	if !o.HasPayoutHash() {
		s.logger.Warn("Payout in progress without a recorded hash, awaiting admin requeue",
			zap.String("order_id", o.ID.String()))
		return true, nil
	}
	res, err := s.payouts.AwaitConfirmation(ctx, *o.PayoutTxHash)
	return s.finishPayout(ctx, o, res, err)
}

func (s *Service) finishPayout(ctx context.Context, o *entities.Order, res *payout.Result, err error) (bool, error) {
	switch {
	case err == nil:
		return true, s.settle(ctx, o, res.TxHash)

	case errors.Is(err, payout.ErrConfirmationTimeout):
		if res != nil && res.TxHash != "" {
			s.journalPayout(ctx, o, res.TxHash, entities.ChainTxStatusPending)
		}
		if noteErr := s.store.SetError(ctx, o.ID, entities.OrderStatusProcessingPayout, "payout broadcast, awaiting confirmation"); noteErr != nil {
			s.logger.Warn("Failed to annotate unconfirmed payout", zap.String("order_id", o.ID.String()), zap.Error(noteErr))
		}
		return true, nil

	case errors.Is(err, payout.ErrSignerBusy):
		// Nothing was signed. The order keeps its claim and waits for a requeue.
		if noteErr := s.store.SetError(ctx, o.ID, entities.OrderStatusProcessingPayout, "payout not submitted, treasury signer busy; requeue to retry"); noteErr != nil {
			s.logger.Warn("Failed to annotate queued payout", zap.String("order_id", o.ID.String()), zap.Error(noteErr))
		}
		return true, nil

	case domainerrors.IsPayoutFailed(err):
		fresh, getErr := s.store.GetByID(ctx, o.ID)
		if getErr != nil {
			return true, getErr
		}
		if fresh.Status != entities.OrderStatusProcessingPayout || fresh.PayoutAttempt != o.PayoutAttempt {
			s.logger.Info("Payout attempt superseded", zap.String("order_id", o.ID.String()), zap.Int("attempt", o.PayoutAttempt))
			return true, nil
		}
		if fresh.HasPayoutHash() {
			hash := *fresh.PayoutTxHash
			if !errors.Is(err, payout.ErrPayoutReverted) {
				known, lookupErr := s.payouts.Known(ctx, hash)
				if lookupErr != nil {
					return true, fmt.Errorf("failed to look up payout %s: %w", hash, lookupErr)
				}
				if known {
					// A signed transfer reached the chain; the sweep keeps tracking it.
					s.logger.Warn("Payout reported failed but its transaction is on chain",
						zap.String("order_id", o.ID.String()),
						zap.String("tx_hash", hash))
					return true, nil
				}
			}
			s.journalPayout(ctx, o, hash, entities.ChainTxStatusFailed)
		}
		return s.fail(ctx, o, entities.OrderStatusFailedPayoutFailed, err)

	default:
		return true, err
	}
}

// settle credits the upline and completes the order exactly once.
func (s *Service) settle(ctx context.Context, o *entities.Order, payoutTxHash string) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "orders.settle", attribute.String("order.id", o.ID.String()))
	defer func() { tracing.EndSpan(span, err) }()

	rewards, err := s.referrals.Credit(ctx, o)
	if err != nil {
		return fmt.Errorf("failed to compute referral rewards: %w", err)
	}

	applied, err := s.store.Settle(ctx, o.ID, chainutil.Normalize(payoutTxHash), rewards)
	if err != nil {
		return fmt.Errorf("failed to settle order %s: %w", o.ID, err)
	}
	if !applied {
		s.logger.Info("Order already settled", zap.String("order_id", o.ID.String()))
		return nil
	}

	s.referrals.Posted(rewards)
	metrics.OrderTransitions.WithLabelValues(string(entities.OrderStatusCompleted)).Inc()
	s.journalPayout(ctx, o, payoutTxHash, entities.ChainTxStatusConfirmed)
	s.logger.Info("Order completed",
		zap.String("order_id", o.ID.String()),
		zap.String("payout_tx_hash", payoutTxHash),
		zap.String("total_pio", o.TotalPio.String()),
		zap.Int("referral_rewards", len(rewards)))
	return nil
}

func (s *Service) journalPayment(ctx context.Context, o *entities.Order, status entities.ChainTxStatus) {
	s.record(ctx, &entities.ChainTransaction{
		OrderID:     o.ID,
		Chain:       entities.ChainBSC,
		TxType:      entities.TxTypeUSDTPayment,
		TxHash:      o.PaymentTxHash,
		FromAddress: o.WalletAddress,
		ToAddress:   o.TreasuryAddress,
		Amount:      o.UsdtAmount,
		Status:      status,
	})
}

func (s *Service) journalPayout(ctx context.Context, o *entities.Order, txHash string, status entities.ChainTxStatus) {
	s.record(ctx, &entities.ChainTransaction{
		OrderID:   o.ID,
		Chain:     entities.ChainPioGold,
		TxType:    entities.TxTypePIOTransfer,
		TxHash:    chainutil.Normalize(txHash),
		ToAddress: o.WalletAddress,
		Amount:    o.TotalPio,
		Status:    status,
	})
}

func failureMessage(err error) string {
	var de *domainerrors.DomainError
	if errors.As(err, &de) {
		if cause, ok := de.Details["cause"]; ok {
			return fmt.Sprintf("%s: %v", de.Message, cause)
		}
		return de.Message
	}
	return err.Error()
}
