package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
)

const chainTxColumns = `id, order_id, chain, tx_type, tx_hash, from_address, to_address, amount, status, created_at, updated_at`

// ChainTransactionRepository is the journal of on-chain order legs.
type ChainTransactionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewChainTransactionRepository creates the journal repository.
func NewChainTransactionRepository(db *sqlx.DB, logger *zap.Logger) *ChainTransactionRepository {
	return &ChainTransactionRepository{db: db, logger: logger}
}

// Record inserts a leg or updates the status of an already journaled hash.
func (r *ChainTransactionRepository) Record(ctx context.Context, tx *entities.ChainTransaction) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO chain_transactions (`+chainTxColumns+`)
		VALUES (:id, :order_id, :chain, :tx_type, :tx_hash, :from_address, :to_address, :amount, :status, :created_at, :updated_at)
		ON CONFLICT (chain, tx_hash) DO UPDATE SET
			status = EXCLUDED.status,
			from_address = CASE WHEN EXCLUDED.from_address <> '' THEN EXCLUDED.from_address ELSE chain_transactions.from_address END,
			updated_at = EXCLUDED.updated_at`, tx)
	if err != nil {
		return fmt.Errorf("failed to record chain transaction: %w", err)
	}
	return nil
}

// List returns journaled legs, newest first, optionally for one chain.
func (r *ChainTransactionRepository) List(ctx context.Context, chain string, limit, offset int) ([]*entities.ChainTransaction, error) {
	limit, offset = page(limit, offset)
	txs := []*entities.ChainTransaction{}
	var err error
	if chain != "" {
		err = r.db.SelectContext(ctx, &txs, `
			SELECT `+chainTxColumns+` FROM chain_transactions
			WHERE chain = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, chain, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &txs, `
			SELECT `+chainTxColumns+` FROM chain_transactions
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list chain transactions: %w", err)
	}
	return txs, nil
}
