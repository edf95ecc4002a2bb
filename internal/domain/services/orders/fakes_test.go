package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/internal/domain/services/payment"
	"github.com/piogold/ico_service/internal/domain/services/payout"
	"github.com/piogold/ico_service/internal/domain/services/pricing"
)

type memStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*entities.Order
	rewards map[string]*entities.ReferralReward
	settles int
}

func newMemStore() *memStore {
	return &memStore{orders: map[uuid.UUID]*entities.Order{}, rewards: map[string]*entities.ReferralReward{}}
}

func (m *memStore) Create(_ context.Context, o *entities.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.PaymentTxHash == o.PaymentTxHash {
			return domainerrors.ErrDuplicatePaymentTx
		}
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) put(o *entities.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*entities.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainerrors.NotFoundError("order")
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetByPaymentTxHash(_ context.Context, txHash string) (*entities.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentTxHash == txHash {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domainerrors.NotFoundError("order")
}

func (m *memStore) Transition(_ context.Context, id uuid.UUID, from, to entities.OrderStatus, u entities.OrderUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if u.PayoutTxHash != nil {
		o.PayoutTxHash = u.PayoutTxHash
	}
	if u.Error != nil {
		o.Error = u.Error
	}
	return true, nil
}

func (m *memStore) SetPayoutTxHash(_ context.Context, id uuid.UUID, attempt int, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.Status != entities.OrderStatusProcessingPayout || o.PayoutAttempt != attempt {
		return domainerrors.ErrStalePayoutAttempt
	}
	o.PayoutTxHash = &txHash
	return nil
}

func (m *memStore) SetError(_ context.Context, id uuid.UUID, status entities.OrderStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o := m.orders[id]; o.Status == status {
		o.Error = &message
	}
	return nil
}

func (m *memStore) Settle(_ context.Context, id uuid.UUID, txHash string, rewards []*entities.ReferralReward) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.Status != entities.OrderStatusProcessingPayout || o.SettlementApplied {
		return false, nil
	}
	o.Status = entities.OrderStatusCompleted
	o.PayoutTxHash = &txHash
	o.SettlementApplied = true
	o.Error = nil
	for _, r := range rewards {
		key := r.SourceOrderID.String() + "/" + string(rune('0'+r.Level))
		if _, dup := m.rewards[key]; !dup {
			m.rewards[key] = r
		}
	}
	m.settles++
	return true, nil
}

func (m *memStore) ClaimRequeue(_ context.Context, id uuid.UUID, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.Status != entities.OrderStatusProcessingPayout || o.PayoutAttempt != expected || o.SettlementApplied {
		return false, nil
	}
	o.PayoutAttempt++
	o.PayoutTxHash = nil
	o.Error = nil
	return true, nil
}

func (m *memStore) List(_ context.Context, f entities.OrderFilter) ([]*entities.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.Order
	for _, o := range m.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ListStale(_ context.Context, statuses []entities.OrderStatus, before time.Time, limit int) ([]*entities.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[entities.OrderStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*entities.Order
	for _, o := range m.orders {
		if want[o.Status] && o.UpdatedAt.Before(before) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) rewardRows() []*entities.ReferralReward {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entities.ReferralReward, 0, len(m.rewards))
	for _, r := range m.rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

type memJournal struct {
	mu  sync.Mutex
	txs []entities.ChainTransaction
}

func (j *memJournal) Record(_ context.Context, tx *entities.ChainTransaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.txs = append(j.txs, *tx)
	return nil
}

func (j *memJournal) last(chain string) *entities.ChainTransaction {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.txs) - 1; i >= 0; i-- {
		if j.txs[i].Chain == chain {
			tx := j.txs[i]
			return &tx
		}
	}
	return nil
}

type stubSettings struct {
	price    decimal.Decimal
	active   bool
	treasury string
	offers   []entities.Offer
}

func (s *stubSettings) Snapshot(context.Context) (pricing.Snapshot, *entities.Settings, error) {
	start := time.Now().Add(-24 * time.Hour)
	return pricing.Snapshot{GoldPricePerGram: s.price, Offers: s.offers, IcoStartDate: start, At: time.Now()},
		&entities.Settings{GoldPricePerGram: s.price, IcoActive: s.active, TreasuryAddress: s.treasury, IcoStartDate: start}, nil
}

type memUsers struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*entities.User
	byAddr map[string]*entities.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[uuid.UUID]*entities.User{}, byAddr: map[string]*entities.User{}}
}

func (m *memUsers) add(wallet string, referrer *entities.User) *entities.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &entities.User{ID: uuid.New(), WalletAddress: wallet}
	if referrer != nil {
		id := referrer.ID
		u.ReferrerID = &id
	}
	m.byID[u.ID] = u
	m.byAddr[wallet] = u
	return u
}

func (m *memUsers) EnsureUser(_ context.Context, wallet string) (*entities.User, error) {
	m.mu.Lock()
	u, ok := m.byAddr[wallet]
	m.mu.Unlock()
	if ok {
		return u, nil
	}
	return m.add(wallet, nil), nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, domainerrors.NotFoundError("user")
}

func (m *memUsers) CountReferrals(context.Context, uuid.UUID) (int64, error) { return 0, nil }

type fakeWatcher struct {
	mu       sync.Mutex
	calls    int
	err      error
	treasury string
}

func (w *fakeWatcher) Watch(_ context.Context, req payment.Request) (*payment.Confirmation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.treasury = req.Treasury
	if w.err != nil {
		return nil, w.err
	}
	return &payment.Confirmation{TxHash: req.TxHash, BlockNumber: 100, Confirmations: 15}, nil
}

type fakePayouts struct {
	mu         sync.Mutex
	calls      int
	awaits     int
	delay      time.Duration
	sign       bool
	err        error
	awaitErr   error
	known      map[string]bool
	lastAmount decimal.Decimal
}

func newFakePayouts() *fakePayouts { return &fakePayouts{sign: true, known: map[string]bool{}} }

func (p *fakePayouts) Dispatch(ctx context.Context, req payout.Request) (*payout.Result, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.lastAmount = req.Amount
	sign, delay, failure := p.sign, p.delay, p.err
	p.mu.Unlock()

	time.Sleep(delay)
	hash := "0x" + hex64(n)
	if sign && req.OnSigned != nil {
		if err := req.OnSigned(ctx, hash); err != nil {
			return nil, err
		}
	}
	if failure != nil {
		return &payout.Result{TxHash: hash}, failure
	}
	return &payout.Result{TxHash: hash, Confirmed: true}, nil
}

func (p *fakePayouts) AwaitConfirmation(_ context.Context, txHash string) (*payout.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awaits++
	if p.awaitErr != nil {
		return &payout.Result{TxHash: txHash}, p.awaitErr
	}
	return &payout.Result{TxHash: txHash, Confirmed: true}, nil
}

func (p *fakePayouts) Known(_ context.Context, txHash string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known[txHash], nil
}

func (p *fakePayouts) dispatchCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type taskRecorder struct {
	mu    sync.Mutex
	ids   []uuid.UUID
	funcs []func(ctx context.Context) error
}

func (r *taskRecorder) Schedule(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *taskRecorder) ScheduleFunc(id uuid.UUID, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.funcs = append(r.funcs, fn)
}

func hex64(n int) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 64)
	for i := range out {
		out[i] = '0'
	}
	for i := 63; n > 0 && i >= 0; i-- {
		out[i] = digits[n%16]
		n /= 16
	}
	return string(out)
}

var errRPCDown = errors.New("rpc unavailable")
