package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/domain/services/payout"
	"github.com/piogold/ico_service/internal/domain/services/pricing"
	"github.com/piogold/ico_service/internal/domain/services/referral"
)

const (
	buyerWallet = "0x1111111111111111111111111111111111111111"
	treasury    = "0x9999999999999999999999999999999999999999"
)

type harness struct {
	svc      *Service
	store    *memStore
	journal  *memJournal
	settings *stubSettings
	users    *memUsers
	watcher  *fakeWatcher
	payouts  *fakePayouts
	tasks    *taskRecorder
}

func newHarness() *harness {
	h := &harness{
		store:    newMemStore(),
		journal:  &memJournal{},
		settings: &stubSettings{price: decimal.NewFromInt(60), active: true, treasury: treasury},
		users:    newMemUsers(),
		watcher:  &fakeWatcher{},
		payouts:  newFakePayouts(),
		tasks:    &taskRecorder{},
	}
	ledger := referral.NewLedger(h.users, nil, zap.NewNop())
	h.svc = NewService(h.store, h.journal, h.settings, h.users, pricing.NewEngine(decimal.NewFromInt(50)),
		h.watcher, h.payouts, ledger, zap.NewNop())
	h.svc.SetScheduler(h.tasks)
	return h
}

func paymentHash(n int) string { return "0x" + strings.Repeat("a", 63) + string("0123456789"[n%10]) }

func (h *harness) create(t *testing.T, usdt string, n int) *entities.Order {
	t.Helper()
	o, created, err := h.svc.Create(context.Background(), &entities.CreateOrderRequest{
		WalletAddress: buyerWallet,
		UsdtAmount:    decimal.RequireFromString(usdt),
		TxHash:        paymentHash(n),
	})
	require.NoError(t, err)
	require.True(t, created)
	return o
}

func (h *harness) order(t *testing.T, id uuid.UUID) *entities.Order {
	t.Helper()
	o, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestCreate_FreezesQuoteAndSchedules(t *testing.T) {
	h := newHarness()

	o := h.create(t, "1000", 1)
	assert.Equal(t, entities.OrderStatusCreated, o.Status)
	assert.Equal(t, "60", o.GoldPrice.String())
	assert.Equal(t, "16.66666666", o.BasePio.String())
	assert.Equal(t, "16.66666666", o.TotalPio.String())
	assert.Equal(t, []uuid.UUID{o.ID}, h.tasks.ids)

	leg := h.journal.last(entities.ChainBSC)
	require.NotNil(t, leg)
	assert.Equal(t, entities.ChainTxStatusPending, leg.Status)
	assert.Equal(t, entities.TxTypeUSDTPayment, leg.TxType)
}

func TestCreate_IsIdempotentOnPaymentHash(t *testing.T) {
	h := newHarness()
	first := h.create(t, "100", 1)

	again, created, err := h.svc.Create(context.Background(), &entities.CreateOrderRequest{
		WalletAddress: buyerWallet,
		UsdtAmount:    decimal.NewFromInt(100),
		TxHash:        "0x" + strings.ToUpper(paymentHash(1)[2:]),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, h.tasks.ids, 1)
}

func TestCreate_PaymentHashOwnedByAnotherWallet(t *testing.T) {
	h := newHarness()
	h.create(t, "100", 1)

	_, _, err := h.svc.Create(context.Background(), &entities.CreateOrderRequest{
		WalletAddress: "0x2222222222222222222222222222222222222222",
		UsdtAmount:    decimal.NewFromInt(100),
		TxHash:        paymentHash(1),
	})
	assert.True(t, domainerrors.IsConflict(err))
}

func TestCreate_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		setup func(h *harness)
		req   entities.CreateOrderRequest
		code  string
	}{
		{
			name: "below minimum",
			req:  entities.CreateOrderRequest{WalletAddress: buyerWallet, UsdtAmount: decimal.RequireFromString("49.99"), TxHash: paymentHash(1)},
			code: domainerrors.CodeBelowMinimum,
		},
		{
			name:  "ico paused",
			setup: func(h *harness) { h.settings.active = false },
			req:   entities.CreateOrderRequest{WalletAddress: buyerWallet, UsdtAmount: decimal.NewFromInt(100), TxHash: paymentHash(1)},
			code:  domainerrors.CodeIcoPaused,
		},
		{
			name:  "treasury not configured",
			setup: func(h *harness) { h.settings.treasury = "" },
			req:   entities.CreateOrderRequest{WalletAddress: buyerWallet, UsdtAmount: decimal.NewFromInt(100), TxHash: paymentHash(1)},
			code:  domainerrors.CodeTreasuryNotConfigured,
		},
		{
			name: "bad tx hash",
			req:  entities.CreateOrderRequest{WalletAddress: buyerWallet, UsdtAmount: decimal.NewFromInt(100), TxHash: "0x1234"},
			code: domainerrors.CodeInvalidTxHash,
		},
		{
			name: "bad wallet",
			req:  entities.CreateOrderRequest{WalletAddress: "0xnope", UsdtAmount: decimal.NewFromInt(100), TxHash: paymentHash(1)},
			code: domainerrors.CodeInvalidAddress,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			if tc.setup != nil {
				tc.setup(h)
			}
			req := tc.req
			_, _, err := h.svc.Create(context.Background(), &req)
			require.Error(t, err)
			assert.Equal(t, tc.code, domainerrors.GetErrorCode(err))
			assert.Empty(t, h.tasks.ids)
		})
	}
}

func TestProcess_HappyPathWithThreeUplines(t *testing.T) {
	h := newHarness()
	l3 := h.users.add("0x3333333333333333333333333333333333333333", nil)
	l2 := h.users.add("0x4444444444444444444444444444444444444444", l3)
	l1 := h.users.add("0x5555555555555555555555555555555555555555", l2)
	h.users.add(buyerWallet, l1)
	h.settings.offers = []entities.Offer{{
		ID: uuid.New(), MinUsdt: decimal.NewFromInt(800), MaxUsdt: decimal.NewFromInt(1000),
		DiscountPercent: decimal.NewFromInt(20), ValidityDays: 15, IsActive: true,
	}}

	o := h.create(t, "1000", 1)
	require.NoError(t, h.svc.Process(context.Background(), o.ID))

	done := h.order(t, o.ID)
	assert.Equal(t, entities.OrderStatusCompleted, done.Status)
	assert.True(t, done.SettlementApplied)
	require.True(t, done.HasPayoutHash())
	assert.Equal(t, "19.99999999", h.payouts.lastAmount.String())

	rewards := h.store.rewardRows()
	require.Len(t, rewards, 3)
	want := []struct {
		beneficiary uuid.UUID
		reward      string
	}{{l1.ID, "1.66666666"}, {l2.ID, "0.83333333"}, {l3.ID, "0.5"}}
	for i, r := range rewards {
		assert.Equal(t, i+1, r.Level)
		assert.Equal(t, want[i].beneficiary, r.BeneficiaryUserID)
		assert.Equal(t, want[i].reward, r.RewardPio.String())
		assert.Equal(t, "1000", r.UsdtBase.String())
		assert.Equal(t, entities.ReferralStatusPending, r.Status)
	}

	leg := h.journal.last(entities.ChainPioGold)
	require.NotNil(t, leg)
	assert.Equal(t, entities.ChainTxStatusConfirmed, leg.Status)
	assert.Equal(t, *done.PayoutTxHash, leg.TxHash)

	require.NoError(t, h.svc.Process(context.Background(), o.ID))
	assert.Equal(t, 1, h.payouts.dispatchCalls())
	assert.Equal(t, 1, h.store.settles)
}

func TestProcess_PaymentFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want entities.OrderStatus
	}{
		{"mismatch", domainerrors.PaymentMismatchError("amount 10 does not match expected 100"), entities.OrderStatusFailedPaymentMismatch},
		{"not found", domainerrors.NewDomainError(domainerrors.ErrPaymentNotFound, domainerrors.CodePaymentNotFound, "payment not confirmed"), entities.OrderStatusFailedPaymentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			h.watcher.err = tc.err
			o := h.create(t, "100", 1)

			require.NoError(t, h.svc.Process(context.Background(), o.ID))
			failed := h.order(t, o.ID)
			assert.Equal(t, tc.want, failed.Status)
			require.NotNil(t, failed.Error)
			assert.Zero(t, h.payouts.dispatchCalls())
			assert.Empty(t, h.store.rewardRows())
		})
	}
}

func TestProcess_TransientWatchErrorLeavesOrderPending(t *testing.T) {
	h := newHarness()
	h.watcher.err = errRPCDown
	o := h.create(t, "100", 1)

	err := h.svc.Process(context.Background(), o.ID)
	assert.ErrorIs(t, err, errRPCDown)
	assert.Equal(t, entities.OrderStatusPendingVerification, h.order(t, o.ID).Status)
}

func TestProcess_InsufficientTreasuryFailsWithoutRewards(t *testing.T) {
	h := newHarness()
	h.users.add(buyerWallet, h.users.add("0x5555555555555555555555555555555555555555", nil))
	h.payouts.sign = false
	h.payouts.err = domainerrors.PayoutFailedError("insufficient treasury balance", payout.ErrInsufficientBalance)

	o := h.create(t, "1000000", 1)
	require.NoError(t, h.svc.Process(context.Background(), o.ID))

	failed := h.order(t, o.ID)
	assert.Equal(t, entities.OrderStatusFailedPayoutFailed, failed.Status)
	assert.False(t, failed.SettlementApplied)
	assert.False(t, failed.HasPayoutHash())
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "insufficient")
	assert.Empty(t, h.store.rewardRows())
}

func TestProcess_VerifiesAgainstTreasuryAtCreation(t *testing.T) {
	h := newHarness()
	o := h.create(t, "100", 1)
	assert.Equal(t, treasury, o.TreasuryAddress)

	h.settings.treasury = "0x8888888888888888888888888888888888888888"
	require.NoError(t, h.svc.Process(context.Background(), o.ID))

	assert.Equal(t, treasury, h.watcher.treasury)
	assert.Equal(t, entities.OrderStatusCompleted, h.order(t, o.ID).Status)
	assert.Equal(t, treasury, h.journal.last(entities.ChainBSC).ToAddress)
}

func TestProcess_BusySignerLeavesOrderClaimed(t *testing.T) {
	h := newHarness()
	h.payouts.sign = false
	h.payouts.err = fmt.Errorf("%w: lock held", payout.ErrSignerBusy)

	o := h.create(t, "100", 1)
	require.NoError(t, h.svc.Process(context.Background(), o.ID))

	queued := h.order(t, o.ID)
	assert.Equal(t, entities.OrderStatusProcessingPayout, queued.Status)
	assert.False(t, queued.HasPayoutHash())
	require.NotNil(t, queued.Error)
	assert.Contains(t, *queued.Error, "signer busy")

	h.payouts.err = nil
	h.payouts.sign = true
	_, err := h.svc.Requeue(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, h.tasks.funcs, 1)
	require.NoError(t, h.tasks.funcs[0](context.Background()))
	assert.Equal(t, entities.OrderStatusCompleted, h.order(t, o.ID).Status)
}

func TestProcess_RevertedPayoutFails(t *testing.T) {
	h := newHarness()
	h.payouts.err = domainerrors.PayoutFailedError("payout transaction reverted", payout.ErrPayoutReverted)

	o := h.create(t, "100", 1)
	require.NoError(t, h.svc.Process(context.Background(), o.ID))
	assert.Equal(t, entities.OrderStatusFailedPayoutFailed, h.order(t, o.ID).Status)
	assert.Equal(t, entities.ChainTxStatusFailed, h.journal.last(entities.ChainPioGold).Status)
}

func TestProcess_FailedSubmissionThatLandedIsNotFailed(t *testing.T) {
	h := newHarness()
	h.payouts.err = domainerrors.PayoutFailedError("payout submission failed", errRPCDown)
	h.payouts.known["0x"+hex64(1)] = true

	o := h.create(t, "100", 1)
	require.NoError(t, h.svc.Process(context.Background(), o.ID))

	stuck := h.order(t, o.ID)
	assert.Equal(t, entities.OrderStatusProcessingPayout, stuck.Status)
	assert.True(t, stuck.HasPayoutHash())
}

func TestProcess_ConcurrentTriggersPayOnce(t *testing.T) {
	h := newHarness()
	h.users.add(buyerWallet, h.users.add("0x5555555555555555555555555555555555555555", nil))
	h.payouts.delay = 20 * time.Millisecond

	o := h.create(t, "500", 1)
	verified := h.order(t, o.ID)
	verified.Status = entities.OrderStatusVerified
	h.store.put(verified)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.svc.Process(context.Background(), o.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.payouts.dispatchCalls())
	assert.Equal(t, 1, h.store.settles)
	assert.Len(t, h.store.rewardRows(), 1)
	assert.Equal(t, entities.OrderStatusCompleted, h.order(t, o.ID).Status)
}

func TestProcess_UnconfirmedPayoutIsResumed(t *testing.T) {
	h := newHarness()
	h.payouts.err = payout.ErrConfirmationTimeout

	o := h.create(t, "100", 1)
	require.NoError(t, h.svc.Process(context.Background(), o.ID))

	pending := h.order(t, o.ID)
	assert.Equal(t, entities.OrderStatusProcessingPayout, pending.Status)
	require.True(t, pending.HasPayoutHash())
	require.NotNil(t, pending.Error)

	h.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	ids, err := h.svc.Recoverable(context.Background(), 3*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{o.ID}, ids)

	require.NoError(t, h.svc.Process(context.Background(), o.ID))
	done := h.order(t, o.ID)
	assert.Equal(t, entities.OrderStatusCompleted, done.Status)
	assert.Equal(t, *pending.PayoutTxHash, *done.PayoutTxHash)
	assert.Equal(t, 1, h.payouts.dispatchCalls())
	assert.Equal(t, 1, h.payouts.awaits)
}

func TestRecoverable_SkipsPayoutsWithoutHash(t *testing.T) {
	h := newHarness()
	o := h.create(t, "100", 1)
	stuck := h.order(t, o.ID)
	stuck.Status = entities.OrderStatusProcessingPayout
	h.store.put(stuck)

	h.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	ids, err := h.svc.Recoverable(context.Background(), 3*time.Minute, 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, h.svc.Process(context.Background(), o.ID))
	assert.Zero(t, h.payouts.dispatchCalls())
}

func TestRequeue_RedispatchesStuckPayout(t *testing.T) {
	h := newHarness()
	o := h.create(t, "100", 1)
	stuck := h.order(t, o.ID)
	stuck.Status = entities.OrderStatusProcessingPayout
	lost := "0x" + hex64(99)
	stuck.PayoutTxHash = &lost
	h.store.put(stuck)

	requeued, err := h.svc.Requeue(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued.PayoutAttempt)
	assert.False(t, requeued.HasPayoutHash())
	require.Len(t, h.tasks.funcs, 1)

	require.NoError(t, h.tasks.funcs[0](context.Background()))
	done := h.order(t, o.ID)
	assert.Equal(t, entities.OrderStatusCompleted, done.Status)
	assert.Equal(t, 1, h.payouts.dispatchCalls())

	_, err = h.svc.Requeue(context.Background(), o.ID)
	assert.Equal(t, domainerrors.CodeRequeueNotAllowed, domainerrors.GetErrorCode(err))
}

func TestRequeue_KnownHashOnlyResumesTracking(t *testing.T) {
	h := newHarness()
	o := h.create(t, "100", 1)
	stuck := h.order(t, o.ID)
	stuck.Status = entities.OrderStatusProcessingPayout
	landed := "0x" + hex64(42)
	stuck.PayoutTxHash = &landed
	h.store.put(stuck)
	h.payouts.known[landed] = true

	got, err := h.svc.Requeue(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.PayoutAttempt)
	assert.Empty(t, h.tasks.funcs)
	assert.Equal(t, o.ID, h.tasks.ids[len(h.tasks.ids)-1])
}

func TestRequeue_SupersededAttemptDoesNotFailOrder(t *testing.T) {
	h := newHarness()
	o := h.create(t, "100", 1)
	stuck := h.order(t, o.ID)
	stuck.Status = entities.OrderStatusProcessingPayout
	h.store.put(stuck)

	_, err := h.svc.Requeue(context.Background(), o.ID)
	require.NoError(t, err)
	_, err = h.svc.Requeue(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, h.tasks.funcs, 2)

	// The first claim is stale; its task must not dispatch.
	require.NoError(t, h.tasks.funcs[0](context.Background()))
	assert.Zero(t, h.payouts.dispatchCalls())
	assert.Equal(t, entities.OrderStatusProcessingPayout, h.order(t, o.ID).Status)

	require.NoError(t, h.tasks.funcs[1](context.Background()))
	assert.Equal(t, entities.OrderStatusCompleted, h.order(t, o.ID).Status)
}

func TestCalculate(t *testing.T) {
	h := newHarness()
	q, err := h.svc.Calculate(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "1.66666666", q.TotalPio.String())
}
