// Package payout signs and submits native-coin transfers from the treasury.
package payout

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/pkg/chainutil"
	"github.com/piogold/ico_service/pkg/crypto"
	"github.com/piogold/ico_service/pkg/metrics"
	"github.com/piogold/ico_service/pkg/retry"
)

var (
	ErrInsufficientBalance = errors.New("insufficient treasury balance")
	ErrInvalidRecipient    = errors.New("invalid recipient address")
	ErrInvalidAmount       = errors.New("payout amount must be positive")
	ErrPayoutReverted      = errors.New("payout transaction reverted")
	ErrConfirmationTimeout = errors.New("payout not confirmed within the receipt window")
	ErrDispatcherStopped   = errors.New("payout dispatcher stopped")
	// ErrSignerBusy means nothing was signed because the cross-process signer
	// lock could not be taken. It is never definitive.
	ErrSignerBusy = errors.New("treasury signer lock unavailable")
)

// ChainClient is the subset of an RPC client the dispatcher needs.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// KeySource returns the sealed treasury key.
type KeySource interface {
	EncryptedSigningKey(ctx context.Context) (string, error)
}

// Locker serializes the signer across processes. Optional.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Config controls signing and confirmation.
type Config struct {
	ChainID             int64
	Decimals            int32
	GasLimit            uint64
	Confirmations       uint64
	ReceiptPollInterval time.Duration
	ReceiptMaxAttempts  int
	MaxRetries          int
	BaseBackoff         time.Duration
	QueueSize           int
	LockTTL             time.Duration
	// LockWait bounds how long a payout queues behind another process
	// holding the signer lock. Defaults to LockTTL.
	LockWait         time.Duration
	LockPollInterval time.Duration
}

// Request is one payout.
type Request struct {
	OrderID   uuid.UUID
	Recipient string
	Amount    decimal.Decimal
	// OnSigned receives every signed hash before it is broadcast, so the caller
	// can persist it and later resume confirmation after a crash.
	OnSigned func(ctx context.Context, txHash string) error
}

// Result describes a submitted payout.
type Result struct {
	TxHash      string
	Nonce       uint64
	From        string
	AmountWei   *big.Int
	BlockNumber uint64
	Confirmed   bool
}

type job struct {
	ctx   context.Context
	req   Request
	reply chan reply
}

type reply struct {
	res *Result
	err error
}

// Dispatcher owns the treasury nonce. A single signer goroutine drains the
// queue, so only one payout is ever in flight per process.
type Dispatcher struct {
	cfg    Config
	client ChainClient
	keys   KeySource
	cipher *crypto.Cipher
	locker Locker
	signer types.Signer
	policy retry.Policy
	logger *zap.Logger

	queue chan job

	// owned by the signer goroutine
	nonce       uint64
	nonceLoaded bool
	nonceFrom   common.Address

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	workCtx   context.Context
	cancel    context.CancelFunc
}

// NewDispatcher creates a dispatcher. locker may be nil.
func NewDispatcher(cfg Config, client ChainClient, keys KeySource, cipher *crypto.Cipher, locker Locker, logger *zap.Logger) *Dispatcher {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 21000
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ReceiptMaxAttempts <= 0 {
		cfg.ReceiptMaxAttempts = 60
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = cfg.LockTTL
	}
	if cfg.LockPollInterval <= 0 {
		cfg.LockPollInterval = time.Second
	}
	policy := retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.BaseBackoff,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		client:  client,
		keys:    keys,
		cipher:  cipher,
		locker:  locker,
		signer:  types.NewEIP155Signer(big.NewInt(cfg.ChainID)),
		policy:  policy,
		logger:  logger,
		queue:   make(chan job, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		workCtx: ctx,
		cancel:  cancel,
	}
}

// Start launches the signer goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run(ctx)
		d.logger.Info("Payout dispatcher started", zap.Int64("chain_id", d.cfg.ChainID))
	})
}

// Shutdown stops accepting work and waits for the in-flight payout.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.stopOnce.Do(func() { close(d.stop) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.cancel()
		return fmt.Errorf("payout dispatcher shutdown timed out after %s", timeout)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case j := <-d.queue:
			if err := j.ctx.Err(); err != nil {
				j.reply <- reply{err: err}
				continue
			}
			res, err := d.process(d.workCtx, j.ctx, j.req)
			j.reply <- reply{res: res, err: err}
		}
	}
}

// Dispatch queues a payout and waits for its outcome.
//
// Errors wrapping domainerrors.ErrPayoutFailed are definitive. ErrConfirmationTimeout
// comes with a non-nil Result carrying the broadcast hash.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	select {
	case <-d.stop:
		return nil, ErrDispatcherStopped
	default:
	}

	j := job{ctx: ctx, req: req, reply: make(chan reply, 1)}
	select {
	case d.queue <- j:
	case <-d.stop:
		return nil, ErrDispatcherStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.res, r.err
	case <-d.done:
		select {
		case r := <-j.reply:
			return r.res, r.err
		default:
			return nil, ErrDispatcherStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// process runs one payout. jobCtx only bounds the wait for the signer lock;
// once a transaction is signed it runs under ctx.
func (d *Dispatcher) process(ctx, jobCtx context.Context, req Request) (*Result, error) {
	started := time.Now()
	log := d.logger.With(zap.String("order_id", req.OrderID.String()), zap.String("recipient", req.Recipient))

	if !chainutil.IsAddress(req.Recipient) {
		metrics.PayoutsTotal.WithLabelValues("invalid_recipient").Inc()
		return nil, domainerrors.PayoutFailedError("invalid recipient address", ErrInvalidRecipient)
	}
	amountWei := chainutil.ToBaseUnitsFloor(req.Amount, d.cfg.Decimals)
	if amountWei.Sign() <= 0 {
		metrics.PayoutsTotal.WithLabelValues("invalid_amount").Inc()
		return nil, domainerrors.PayoutFailedError("payout amount must be positive", ErrInvalidAmount)
	}

	if d.locker != nil {
		release, err := d.acquireLock(ctx, jobCtx)
		if err != nil {
			metrics.PayoutsTotal.WithLabelValues("lock_unavailable").Inc()
			log.Warn("Payout not submitted, signer lock unavailable", zap.Error(err))
			return nil, err
		}
		defer release()
	}

	res, err := d.submit(ctx, req, amountWei, log)
	if err != nil {
		if domainerrors.IsPayoutFailed(err) {
			metrics.PayoutsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	receipt, err := d.waitForReceipt(ctx, common.HexToHash(res.TxHash))
	if err != nil {
		if errors.Is(err, ErrConfirmationTimeout) {
			metrics.PayoutsTotal.WithLabelValues("unconfirmed").Inc()
			log.Warn("Payout broadcast but not confirmed", zap.String("tx_hash", res.TxHash))
			return res, err
		}
		if domainerrors.IsPayoutFailed(err) {
			metrics.PayoutsTotal.WithLabelValues("reverted").Inc()
		}
		return nil, err
	}

	res.BlockNumber = receipt.BlockNumber.Uint64()
	res.Confirmed = true
	metrics.PayoutsTotal.WithLabelValues("confirmed").Inc()
	metrics.PayoutDuration.Observe(time.Since(started).Seconds())
	log.Info("Payout confirmed",
		zap.String("tx_hash", res.TxHash),
		zap.Uint64("nonce", res.Nonce),
		zap.Uint64("block", res.BlockNumber))
	return res, nil
}

// acquireLock polls the signer lock until it is free, LockWait elapses or
// either context ends. A holder releases within LockTTL, so the default wait
// outlasts any live holder. Lock errors are treated like a held lock.
func (d *Dispatcher) acquireLock(ctx, jobCtx context.Context) (func(), error) {
	key := fmt.Sprintf("payout:signer:%d", d.cfg.ChainID)
	deadline := time.NewTimer(d.cfg.LockWait)
	defer deadline.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		release, err := d.locker.Acquire(ctx, key, d.cfg.LockTTL)
		if err == nil {
			return release, nil
		}
		lastErr = err
		if attempt == 1 {
			d.logger.Info("Signer lock held elsewhere, queueing", zap.String("key", key), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSignerBusy, ctx.Err())
		case <-jobCtx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSignerBusy, jobCtx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("%w after %s and %d attempts: %v", ErrSignerBusy, d.cfg.LockWait, attempt, lastErr)
		case <-time.After(d.cfg.LockPollInterval):
		}
	}
}

// submit signs and broadcasts with the locally tracked nonce. The decrypted
// key never leaves this call.
func (d *Dispatcher) submit(ctx context.Context, req Request, amountWei *big.Int, log *zap.Logger) (*Result, error) {
	key, from, err := d.loadKey(ctx)
	if err != nil {
		return nil, domainerrors.PayoutFailedError("treasury signing key unavailable", err)
	}
	if d.nonceFrom != from {
		d.nonceLoaded = false
		d.nonceFrom = from
	}

	to := common.HexToAddress(req.Recipient)
	var (
		submitted *types.Transaction
		prev      *types.Transaction
	)

	attempt := func() error {
		// A previous broadcast may have reached the node even though the call failed.
		if prev != nil {
			if _, _, err := d.client.TransactionByHash(ctx, prev.Hash()); err == nil {
				submitted = prev
				return nil
			}
		}

		if !d.nonceLoaded {
			n, err := d.client.PendingNonceAt(ctx, from)
			if err != nil {
				return fmt.Errorf("pending nonce: %w", err)
			}
			d.nonce = n
			d.nonceLoaded = true
		}

		var tx *types.Transaction
		if prev != nil && prev.Nonce() == d.nonce {
			tx = prev
		} else {
			gasPrice, err := d.client.SuggestGasPrice(ctx)
			if err != nil {
				return fmt.Errorf("gas price: %w", err)
			}
			balance, err := d.client.BalanceAt(ctx, from, nil)
			if err != nil {
				return fmt.Errorf("balance: %w", err)
			}
			cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(d.cfg.GasLimit))
			cost.Add(cost, amountWei)
			if balance.Cmp(cost) < 0 {
				return retry.Permanent(ErrInsufficientBalance)
			}

			tx, err = types.SignTx(types.NewTx(&types.LegacyTx{
				Nonce:    d.nonce,
				To:       &to,
				Value:    amountWei,
				Gas:      d.cfg.GasLimit,
				GasPrice: gasPrice,
			}), d.signer, key)
			if err != nil {
				return retry.Permanent(fmt.Errorf("sign: %w", err))
			}
		}

		if req.OnSigned != nil {
			if err := req.OnSigned(ctx, tx.Hash().Hex()); err != nil {
				return fmt.Errorf("record signed payout: %w", err)
			}
		}

		err := d.client.SendTransaction(ctx, tx)
		switch {
		case err == nil || isAlreadyKnown(err):
			submitted = tx
			return nil
		case isInsufficientFunds(err):
			return retry.Permanent(ErrInsufficientBalance)
		case isNonceConflict(err):
			log.Warn("Nonce conflict, resyncing from chain", zap.Uint64("nonce", d.nonce), zap.Error(err))
			d.nonceLoaded = false
			return err
		default:
			prev = tx
			return fmt.Errorf("send: %w", err)
		}
	}

	err = retry.NewRetrier(d.policy, d.logger).Do(ctx, attempt)
	key.D.SetInt64(0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, domainerrors.PayoutFailedError("insufficient treasury balance", err)
		}
		return nil, domainerrors.PayoutFailedError("payout submission failed", err)
	}

	d.nonce = submitted.Nonce() + 1
	log.Info("Payout broadcast", zap.String("tx_hash", submitted.Hash().Hex()), zap.Uint64("nonce", submitted.Nonce()))

	return &Result{
		TxHash:    chainutil.Normalize(submitted.Hash().Hex()),
		Nonce:     submitted.Nonce(),
		From:      chainutil.Normalize(from.Hex()),
		AmountWei: amountWei,
	}, nil
}

func (d *Dispatcher) loadKey(ctx context.Context) (*ecdsa.PrivateKey, common.Address, error) {
	sealed, err := d.keys.EncryptedSigningKey(ctx)
	if err != nil {
		return nil, common.Address{}, err
	}
	raw, err := d.cipher.Open(sealed)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("open signing key: %w", err)
	}
	defer crypto.Zero(raw)

	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse signing key: %w", err)
	}
	return key, ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// AwaitConfirmation waits for an already-broadcast payout. It does not sign.
func (d *Dispatcher) AwaitConfirmation(ctx context.Context, txHash string) (*Result, error) {
	receipt, err := d.waitForReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return &Result{TxHash: chainutil.Normalize(txHash)}, err
	}
	return &Result{
		TxHash:      chainutil.Normalize(txHash),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Confirmed:   true,
	}, nil
}

// Known reports whether the payout chain knows a transaction, mined or pending.
func (d *Dispatcher) Known(ctx context.Context, txHash string) (bool, error) {
	_, _, err := d.client.TransactionByHash(ctx, common.HexToHash(txHash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	return false, err
}

func (d *Dispatcher) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for attempt := 1; attempt <= d.cfg.ReceiptMaxAttempts; attempt++ {
		receipt, err := d.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, domainerrors.PayoutFailedError("payout transaction reverted", ErrPayoutReverted)
			}
			head, err := d.client.BlockNumber(ctx)
			if err == nil && head >= receipt.BlockNumber.Uint64() &&
				head-receipt.BlockNumber.Uint64()+1 >= d.cfg.Confirmations {
				return receipt, nil
			}
		case errors.Is(err, ethereum.NotFound):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			d.logger.Debug("Receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		if attempt == d.cfg.ReceiptMaxAttempts {
			break
		}
		timer := time.NewTimer(d.cfg.ReceiptPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, ErrConfirmationTimeout
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isNonceConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "nonce too high")
}

func isInsufficientFunds(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}
