package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/infrastructure/database"
)

const orderColumns = `id, user_id, wallet_address, usdt_amount, payment_tx_hash, treasury_address, status,
	gold_price, base_pio, discount_percent, bonus_pio, total_pio, offer_id,
	payout_tx_hash, error, settlement_applied, payout_attempt, created_at, updated_at`

// OrderRepository persists orders. Every status change is conditional on
// the current status.
type OrderRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *sqlx.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

// Create inserts an order. A reused payment hash yields ErrDuplicatePaymentTx.
func (r *OrderRepository) Create(ctx context.Context, o *entities.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (:id, :user_id, :wallet_address, :usdt_amount, :payment_tx_hash, :treasury_address, :status,
			:gold_price, :base_pio, :discount_percent, :bonus_pio, :total_pio, :offer_id,
			:payout_tx_hash, :error, :settlement_applied, :payout_attempt, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, o); err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return domainerrors.ErrDuplicatePaymentTx
		}
		r.logger.Error("Failed to create order", zap.Error(err), zap.String("order_id", o.ID.String()))
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetByPaymentTxHash retrieves the order bound to a payment hash.
func (r *OrderRepository) GetByPaymentTxHash(ctx context.Context, txHash string) (*entities.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_tx_hash = $1`, txHash)
}

// Transition moves an order from one status to another if it is still in from.
func (r *OrderRepository) Transition(ctx context.Context, id uuid.UUID, from, to entities.OrderStatus, update entities.OrderUpdate) (bool, error) {
	query := `
		UPDATE orders
		SET status = $3,
			payout_tx_hash = COALESCE($4, payout_tx_hash),
			error = COALESCE($5, error),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query, id, from, to, update.PayoutTxHash, update.Error)
	if err != nil {
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	return affected(res)
}

// SetPayoutTxHash records a signed payout for the current payout attempt.
func (r *OrderRepository) SetPayoutTxHash(ctx context.Context, id uuid.UUID, attempt int, txHash string) error {
	query := `
		UPDATE orders
		SET payout_tx_hash = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING_PAYOUT' AND payout_attempt = $2 AND NOT settlement_applied`

	res, err := r.db.ExecContext(ctx, query, id, attempt, txHash)
	if err != nil {
		return fmt.Errorf("failed to record payout hash: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domainerrors.ErrStalePayoutAttempt
	}
	return nil
}

// SetError annotates an order still in status.
func (r *OrderRepository) SetError(ctx context.Context, id uuid.UUID, status entities.OrderStatus, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET error = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, status, message)
	if err != nil {
		return fmt.Errorf("failed to annotate order: %w", err)
	}
	return nil
}

// Settle completes the order, inserts the referral rows and credits the
// buyer's totals atomically. It is a no-op for an already settled order.
func (r *OrderRepository) Settle(ctx context.Context, id uuid.UUID, payoutTxHash string, rewards []*entities.ReferralReward) (bool, error) {
	applied := false
	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var settled struct {
			UserID     uuid.UUID       `db:"user_id"`
			UsdtAmount decimal.Decimal `db:"usdt_amount"`
			TotalPio   decimal.Decimal `db:"total_pio"`
		}
		err := tx.GetContext(ctx, &settled, `
			UPDATE orders
			SET status = 'COMPLETED', payout_tx_hash = $2, settlement_applied = TRUE,
				error = NULL, updated_at = NOW()
			WHERE id = $1 AND status = 'PROCESSING_PAYOUT' AND NOT settlement_applied
			RETURNING user_id, usdt_amount, total_pio`, id, payoutTxHash)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to complete order: %w", err)
		}

		if err := insertRewards(ctx, tx, rewards); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET total_usdt_purchased = total_usdt_purchased + $2,
				total_pio_received = total_pio_received + $3,
				updated_at = NOW()
			WHERE id = $1`, settled.UserID, settled.UsdtAmount, settled.TotalPio); err != nil {
			return fmt.Errorf("failed to update buyer totals: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to settle order", zap.Error(err), zap.String("order_id", id.String()))
		return false, err
	}
	return applied, nil
}

// ClaimRequeue starts a new payout attempt for a stuck order.
func (r *OrderRepository) ClaimRequeue(ctx context.Context, id uuid.UUID, expectedAttempt int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payout_attempt = payout_attempt + 1, payout_tx_hash = NULL, error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING_PAYOUT' AND payout_attempt = $2 AND NOT settlement_applied`,
		id, expectedAttempt)
	if err != nil {
		return false, fmt.Errorf("failed to claim order for requeue: %w", err)
	}
	return affected(res)
}

// List returns orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter entities.OrderFilter) ([]*entities.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.WalletAddress != "" {
		args = append(args, filter.WalletAddress)
		where = append(where, fmt.Sprintf("wallet_address = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit, offset := page(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	orders := []*entities.Order{}
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// ListStale returns orders in statuses that have not moved since updatedBefore, oldest first.
func (r *OrderRepository) ListStale(ctx context.Context, statuses []entities.OrderStatus, updatedBefore time.Time, limit int) ([]*entities.Order, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	orders := []*entities.Order{}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) AND NOT settlement_applied AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`, pq.Array(names), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.Order, error) {
	var o entities.Order
	if err := r.db.GetContext(ctx, &o, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("order")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// page clamps pagination to sane bounds.
func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
