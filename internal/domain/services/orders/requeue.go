package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

// Requeue restarts a payout stuck in PROCESSING_PAYOUT. A recorded hash
// that the payout chain knows is only re-tracked; otherwise the order is
// claimed under a new payout attempt and dispatched again.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*entities.Order, error) {
	if s.scheduler == nil {
		return nil, domainerrors.ServiceUnavailableError("settlement workers", fmt.Errorf("no scheduler wired"))
	}
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != entities.OrderStatusProcessingPayout || o.SettlementApplied {
		return nil, domainerrors.RequeueNotAllowedError(fmt.Sprintf("order is %s, only stuck payouts can be requeued", o.Status))
	}

	if o.HasPayoutHash() {
		known, err := s.payouts.Known(ctx, *o.PayoutTxHash)
		if err != nil {
			return nil, domainerrors.ServiceUnavailableError("payout chain", err)
		}
		if known {
			s.logger.Info("Requeue resumes confirmation tracking",
				zap.String("order_id", id.String()),
				zap.String("tx_hash", *o.PayoutTxHash))
			s.schedule(id)
			return o, nil
		}
	}

	ok, err := s.store.ClaimRequeue(ctx, id, o.PayoutAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to claim order %s for requeue: %w", id, err)
	}
	if !ok {
		return nil, domainerrors.RequeueNotAllowedError("order changed while requeueing, reload and retry")
	}
	attempt := o.PayoutAttempt + 1

	s.logger.Warn("Payout requeued",
		zap.String("order_id", id.String()),
		zap.Int("attempt", attempt))

	redispatch := func(ctx context.Context) error {
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != entities.OrderStatusProcessingPayout || current.PayoutAttempt != attempt || current.HasPayoutHash() {
			return nil
		}
		_, err = s.dispatch(ctx, current)
		return err
	}
	s.scheduler.ScheduleFunc(id, redispatch)

	return s.store.GetByID(ctx, id)
}
