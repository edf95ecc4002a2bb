// Package payment confirms buyer stablecoin transfers on the payment chain.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/pkg/chainutil"
	"github.com/piogold/ico_service/pkg/metrics"
)

// TransferEventSignature is keccak256("Transfer(address,address,uint256)").
var TransferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ChainReader is the subset of an RPC client the watcher needs.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config controls finality and the polling window.
type Config struct {
	TokenContract common.Address
	TokenDecimals int32
	Confirmations uint64
	PollInterval  time.Duration
	MaxAttempts   int
}

// Request identifies the payment an order claims.
type Request struct {
	OrderID        uuid.UUID
	TxHash         string
	Treasury       string
	ExpectedSender string
	ExpectedAmount decimal.Decimal
}

// Confirmation describes a payment that reached finality.
type Confirmation struct {
	TxHash        string
	BlockNumber   uint64
	BlockHash     string
	Confirmations uint64
	From          string
	Amount        decimal.Decimal
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeTransient
	outcomeMismatch
	outcomeConfirmed
)

func (o outcome) String() string {
	switch o {
	case outcomePending:
		return "pending"
	case outcomeTransient:
		return "transient_error"
	case outcomeMismatch:
		return "mismatch"
	default:
		return "confirmed"
	}
}

// Watcher polls for a payment until it is final, mismatched, or the window closes.
// It holds no per-order state, so a restarted process simply watches again.
type Watcher struct {
	cfg    Config
	chain  ChainReader
	logger *zap.Logger
}

// NewWatcher creates a watcher.
func NewWatcher(cfg Config, chain ChainReader, logger *zap.Logger) *Watcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	return &Watcher{cfg: cfg, chain: chain, logger: logger}
}

// Watch blocks until the payment is confirmed or a terminal error occurs.
// Terminal errors wrap domainerrors.ErrPaymentMismatch or ErrPaymentNotFound.
func (w *Watcher) Watch(ctx context.Context, req Request) (*Confirmation, error) {
	expected, err := chainutil.ToBaseUnits(req.ExpectedAmount, w.cfg.TokenDecimals)
	if err != nil {
		return nil, domainerrors.PaymentMismatchError(fmt.Sprintf("order amount %s cannot be paid in token units", req.ExpectedAmount))
	}
	log := w.logger.With(
		zap.String("order_id", req.OrderID.String()),
		zap.String("tx_hash", req.TxHash))

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		conf, result, err := w.check(ctx, req, expected)
		metrics.WatcherAttempts.WithLabelValues(result.String()).Inc()

		switch result {
		case outcomeConfirmed:
			log.Info("Payment confirmed",
				zap.Uint64("block", conf.BlockNumber),
				zap.Uint64("confirmations", conf.Confirmations),
				zap.Int("attempt", attempt))
			return conf, nil
		case outcomeMismatch:
			log.Warn("Payment mismatch", zap.Error(err))
			return nil, err
		case outcomeTransient:
			lastErr = err
			log.Warn("Payment check failed, will retry", zap.Error(err), zap.Int("attempt", attempt))
		default:
			log.Debug("Payment not final yet", zap.Int("attempt", attempt), zap.String("reason", errString(err)))
		}

		if attempt == w.cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, w.cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	msg := fmt.Sprintf("payment not confirmed after %d attempts", w.cfg.MaxAttempts)
	if lastErr != nil {
		msg = fmt.Sprintf("%s (last error: %v)", msg, lastErr)
	}
	return nil, &domainerrors.DomainError{
		Err:     domainerrors.ErrPaymentNotFound,
		Code:    domainerrors.CodePaymentNotFound,
		Message: msg,
	}
}

// check performs one independent verification attempt.
func (w *Watcher) check(ctx context.Context, req Request, expected *big.Int) (*Confirmation, outcome, error) {
	hash := common.HexToHash(req.TxHash)

	receipt, err := w.chain.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, outcomePending, errors.New("transaction not mined")
		}
		if ctx.Err() != nil {
			return nil, outcomeTransient, ctx.Err()
		}
		return nil, outcomeTransient, fmt.Errorf("receipt lookup: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, outcomeMismatch, domainerrors.PaymentMismatchError("payment transaction reverted")
	}

	from, amount, err := w.matchTransfer(receipt, req, expected)
	if err != nil {
		return nil, outcomeMismatch, err
	}

	head, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return nil, outcomeTransient, fmt.Errorf("block number: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return nil, outcomePending, errors.New("node behind receipt block")
	}
	confirmations := head - mined + 1
	if confirmations < w.cfg.Confirmations {
		return nil, outcomePending, fmt.Errorf("%d/%d confirmations", confirmations, w.cfg.Confirmations)
	}

	// The receipt block must still be canonical.
	header, err := w.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(mined))
	if err != nil {
		return nil, outcomeTransient, fmt.Errorf("header lookup: %w", err)
	}
	if header.Hash() != receipt.BlockHash {
		return nil, outcomePending, fmt.Errorf("block %d reorganized", mined)
	}

	return &Confirmation{
		TxHash:        chainutil.Normalize(req.TxHash),
		BlockNumber:   mined,
		BlockHash:     receipt.BlockHash.Hex(),
		Confirmations: confirmations,
		From:          chainutil.Normalize(from.Hex()),
		Amount:        chainutil.FromBaseUnits(amount, w.cfg.TokenDecimals),
	}, outcomeConfirmed, nil
}

// matchTransfer finds the token Transfer log paying the treasury and checks
// that sender and amount match the order exactly.
func (w *Watcher) matchTransfer(receipt *types.Receipt, req Request, expected *big.Int) (common.Address, *big.Int, error) {
	treasury := common.HexToAddress(req.Treasury)
	sender := common.HexToAddress(req.ExpectedSender)

	var seen int
	var mismatch string
	for _, lg := range receipt.Logs {
		if lg.Address != w.cfg.TokenContract || len(lg.Topics) != 3 || lg.Topics[0] != TransferEventSignature {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != treasury {
			continue
		}
		seen++
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		amount := new(big.Int).SetBytes(lg.Data)

		switch {
		case from != sender:
			mismatch = fmt.Sprintf("payment sender %s does not match order wallet %s", from.Hex(), sender.Hex())
		case amount.Cmp(expected) != 0:
			mismatch = fmt.Sprintf("payment amount %s does not match order amount %s",
				chainutil.FromBaseUnits(amount, w.cfg.TokenDecimals), req.ExpectedAmount)
		default:
			return from, amount, nil
		}
	}

	if seen == 0 {
		return common.Address{}, nil, domainerrors.PaymentMismatchError("transaction contains no USDT transfer to the treasury")
	}
	return common.Address{}, nil, domainerrors.PaymentMismatchError(mismatch)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
