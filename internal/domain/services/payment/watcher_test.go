package payment

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

var (
	token    = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	txHash   = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

type fakeChain struct {
	mu sync.Mutex

	receipt       *types.Receipt
	notMinedFor   int
	receiptErrFor int
	receiptCalls  int

	head         uint64
	headStep     uint64
	canonical    *types.Header
	reorgedUntil int
	headerCalls  int
}

func (f *fakeChain) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.receiptCalls <= f.receiptErrFor {
		return nil, errors.New("connection reset by peer")
	}
	if f.receiptCalls <= f.receiptErrFor+f.notMinedFor || f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.head
	f.head += f.headStep
	return h, nil
}

func (f *fakeChain) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerCalls++
	if f.headerCalls <= f.reorgedUntil {
		return &types.Header{Number: n, Difficulty: big.NewInt(2), Extra: []byte("fork")}, nil
	}
	return f.canonical, nil
}

func wei(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func transferLog(from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			TransferEventSignature,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func newChain(logs ...*types.Log) *fakeChain {
	header := &types.Header{Number: big.NewInt(100), Difficulty: big.NewInt(1)}
	return &fakeChain{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			BlockHash:   header.Hash(),
			TxHash:      txHash,
			Logs:        logs,
		},
		head:      114,
		canonical: header,
	}
}

func newWatcher(chain ChainReader, attempts int) *Watcher {
	return NewWatcher(Config{
		TokenContract: token,
		TokenDecimals: 18,
		Confirmations: 15,
		PollInterval:  time.Millisecond,
		MaxAttempts:   attempts,
	}, chain, zap.NewNop())
}

func request(amount string) Request {
	return Request{
		OrderID:        uuid.New(),
		TxHash:         txHash.Hex(),
		Treasury:       treasury.Hex(),
		ExpectedSender: buyer.Hex(),
		ExpectedAmount: decimal.RequireFromString(amount),
	}
}

func TestWatch_Confirmed(t *testing.T) {
	chain := newChain(transferLog(buyer, treasury, wei("1000000000000000000000")))
	conf, err := newWatcher(chain, 3).Watch(context.Background(), request("1000"))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), conf.BlockNumber)
	assert.Equal(t, uint64(15), conf.Confirmations)
	assert.Equal(t, "1000", conf.Amount.String())
}

func TestWatch_WaitsForConfirmations(t *testing.T) {
	chain := newChain(transferLog(buyer, treasury, wei("50000000000000000000")))
	chain.head = 105
	chain.headStep = 5

	conf, err := newWatcher(chain, 10).Watch(context.Background(), request("50"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, conf.Confirmations, uint64(15))
	assert.Equal(t, 3, chain.receiptCalls)
}

func TestWatch_NotMinedThenConfirmed(t *testing.T) {
	chain := newChain(transferLog(buyer, treasury, wei("50000000000000000000")))
	chain.notMinedFor = 2
	chain.receiptErrFor = 1

	_, err := newWatcher(chain, 5).Watch(context.Background(), request("50"))
	require.NoError(t, err)
	assert.Equal(t, 4, chain.receiptCalls)
}

func TestWatch_PaymentNotFound(t *testing.T) {
	chain := &fakeChain{}
	_, err := newWatcher(chain, 3).Watch(context.Background(), request("50"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsPaymentNotFound(err))
	assert.Equal(t, 3, chain.receiptCalls)
}

func TestWatch_AmountMismatch(t *testing.T) {
	chain := newChain(transferLog(buyer, treasury, wei("999000000000000000000")))
	_, err := newWatcher(chain, 3).Watch(context.Background(), request("1000"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsPaymentMismatch(err))
	assert.Contains(t, err.Error(), "amount")
	assert.Equal(t, 1, chain.receiptCalls)
}

func TestWatch_SenderMismatch(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	chain := newChain(transferLog(other, treasury, wei("1000000000000000000000")))
	_, err := newWatcher(chain, 3).Watch(context.Background(), request("1000"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsPaymentMismatch(err))
	assert.Contains(t, err.Error(), "sender")
}

func TestWatch_NoTransferToTreasury(t *testing.T) {
	elsewhere := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	chain := newChain(transferLog(buyer, elsewhere, wei("1000000000000000000000")))
	_, err := newWatcher(chain, 3).Watch(context.Background(), request("1000"))
	assert.True(t, domainerrors.IsPaymentMismatch(err))
}

func TestWatch_ForeignTokenIgnored(t *testing.T) {
	lg := transferLog(buyer, treasury, wei("1000000000000000000000"))
	lg.Address = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	chain := newChain(lg)
	_, err := newWatcher(chain, 3).Watch(context.Background(), request("1000"))
	assert.True(t, domainerrors.IsPaymentMismatch(err))
}

func TestWatch_Reverted(t *testing.T) {
	chain := newChain(transferLog(buyer, treasury, wei("1000000000000000000000")))
	chain.receipt.Status = types.ReceiptStatusFailed
	_, err := newWatcher(chain, 3).Watch(context.Background(), request("1000"))
	assert.True(t, domainerrors.IsPaymentMismatch(err))
}

func TestWatch_ReorgIsNotFinal(t *testing.T) {
	chain := newChain(transferLog(buyer, treasury, wei("1000000000000000000000")))
	chain.reorgedUntil = 2

	_, err := newWatcher(chain, 5).Watch(context.Background(), request("1000"))
	require.NoError(t, err)
	assert.Equal(t, 3, chain.headerCalls)
}

func TestWatch_UnrepresentableAmount(t *testing.T) {
	chain := newChain()
	w := NewWatcher(Config{TokenContract: token, TokenDecimals: 2, MaxAttempts: 1}, chain, zap.NewNop())
	_, err := w.Watch(context.Background(), request("50.001"))
	assert.True(t, domainerrors.IsPaymentMismatch(err))
	assert.Equal(t, 0, chain.receiptCalls)
}

func TestWatch_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWatcher(Config{TokenContract: token, TokenDecimals: 18, Confirmations: 1, PollInterval: time.Second, MaxAttempts: 30}, &fakeChain{}, zap.NewNop())
	_, err := w.Watch(ctx, request("50"))
	assert.ErrorIs(t, err, context.Canceled)
}
