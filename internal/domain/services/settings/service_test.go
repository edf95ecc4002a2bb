package settings

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/pkg/crypto"
)

type memSettings struct {
	mu sync.Mutex
	s  *entities.Settings
	// beforeCreate runs before a default insert, to interleave a writer.
	beforeCreate func()
}

func (m *memSettings) Get(context.Context) (*entities.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return nil, domainerrors.NotFoundError("SETTINGS")
	}
	cp := *m.s
	return &cp, nil
}

func (m *memSettings) CreateIfAbsent(_ context.Context, s *entities.Settings) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s != nil {
		return nil
	}
	cp := *s
	m.s = &cp
	return nil
}

func (m *memSettings) Upsert(_ context.Context, s *entities.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.s = &cp
	return nil
}

type memOffers struct {
	mu sync.Mutex
	m  map[uuid.UUID]entities.Offer
}

func newMemOffers() *memOffers { return &memOffers{m: map[uuid.UUID]entities.Offer{}} }

func (o *memOffers) List(_ context.Context, activeOnly bool) ([]entities.Offer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := []entities.Offer{}
	for _, v := range o.m {
		if activeOnly && !v.IsActive {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinUsdt.GreaterThan(out[j].MinUsdt) })
	return out, nil
}

func (o *memOffers) GetByID(_ context.Context, id uuid.UUID) (*entities.Offer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.m[id]
	if !ok {
		return nil, domainerrors.NotFoundError("OFFER")
	}
	return &v, nil
}

func (o *memOffers) Create(_ context.Context, v *entities.Offer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[v.ID] = *v
	return nil
}

func (o *memOffers) Update(ctx context.Context, v *entities.Offer) error { return o.Create(ctx, v) }

func (o *memOffers) Delete(_ context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.m[id]; !ok {
		return domainerrors.NotFoundError("OFFER")
	}
	delete(o.m, id)
	return nil
}

type memCache struct {
	data    map[string][]byte
	deletes int
}

func (c *memCache) GetJSON(_ context.Context, key string, dst interface{}) (bool, error) {
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *memCache) SetJSON(_ context.Context, key string, v interface{}, _ time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
	}
	c.deletes++
	return nil
}

func newService(t *testing.T, cache Cache) (*Service, *memSettings, *memOffers) {
	t.Helper()
	cipher, err := crypto.NewCipher("test-passphrase")
	require.NoError(t, err)
	repo := &memSettings{}
	offers := newMemOffers()
	svc := NewService(repo, offers, cache, time.Minute, cipher, decimal.NewFromInt(50),
		ChainInfo{PaymentChainID: 56, USDTContract: "0x55d398326f99059fF775485246999027B3197955", PayoutChainID: 42357},
		zap.NewNop())
	return svc, repo, offers
}

func TestGet_CreatesDefaults(t *testing.T) {
	svc, repo, _ := newService(t, nil)
	s, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, s.GoldPricePerGram.Equal(DefaultGoldPrice))
	assert.True(t, s.IcoActive)
	assert.NotNil(t, repo.s)
}

func TestGet_DefaultsNeverOverwriteConcurrentWrite(t *testing.T) {
	svc, repo, _ := newService(t, nil)
	admin := "0x9999999999999999999999999999999999999999"
	repo.beforeCreate = func() {
		_ = repo.Upsert(context.Background(), &entities.Settings{
			ID:               1,
			GoldPricePerGram: decimal.NewFromInt(70),
			IcoActive:        true,
			TreasuryAddress:  admin,
		})
	}

	s, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, admin, s.TreasuryAddress)
	assert.Equal(t, "70", s.GoldPricePerGram.String())
	assert.Equal(t, admin, repo.s.TreasuryAddress)
}

func TestUpdate_Validation(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	zero := decimal.Zero
	_, err := svc.Update(ctx, &entities.UpdateSettingsRequest{GoldPricePerGram: &zero})
	assert.True(t, domainerrors.IsInvalidInput(err))

	bad := "0x1234"
	_, err = svc.Update(ctx, &entities.UpdateSettingsRequest{TreasuryAddress: &bad})
	assert.Equal(t, domainerrors.CodeInvalidAddress, domainerrors.GetErrorCode(err))

	badKey := "not-a-key"
	_, err = svc.Update(ctx, &entities.UpdateSettingsRequest{SigningPrivateKey: &badKey})
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestUpdate_SealsSigningKey(t *testing.T) {
	svc, repo, _ := newService(t, nil)
	ctx := context.Background()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	plainHex := hex.EncodeToString(ethcrypto.FromECDSA(key))
	withPrefix := "0x" + plainHex
	treasury := "0xAbC0000000000000000000000000000000000001"
	price := decimal.RequireFromString("60")

	view, err := svc.Update(ctx, &entities.UpdateSettingsRequest{
		GoldPricePerGram:  &price,
		TreasuryAddress:   &treasury,
		SigningPrivateKey: &withPrefix,
	})
	require.NoError(t, err)
	assert.True(t, view.SigningKeyConfigured)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", view.TreasuryAddress)
	assert.Equal(t, NormalizeAddress(ethcrypto.PubkeyToAddress(key.PublicKey).Hex()), view.SigningAddress)

	assert.NotContains(t, repo.s.EncryptedSigningKey, plainHex)
	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), repo.s.EncryptedSigningKey)
	assert.NotContains(t, string(raw), plainHex)

	sealed, err := svc.EncryptedSigningKey(ctx)
	require.NoError(t, err)
	cipher, _ := crypto.NewCipher("test-passphrase")
	opened, err := cipher.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(key), opened)
}

func TestEncryptedSigningKey_NotConfigured(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, err := svc.EncryptedSigningKey(context.Background())
	assert.True(t, domainerrors.IsServiceUnavailable(err))
}

func TestPublic_CachesAndInvalidates(t *testing.T) {
	cache := &memCache{data: map[string][]byte{}}
	svc, _, _ := newService(t, cache)
	ctx := context.Background()

	p, err := svc.Public(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42357), p.PayoutChainID)
	assert.Contains(t, cache.data, publicCacheKey)

	_, err = svc.SetIcoActive(ctx, false)
	require.NoError(t, err)
	assert.NotContains(t, cache.data, publicCacheKey)

	p, err = svc.Public(ctx)
	require.NoError(t, err)
	assert.False(t, p.IcoActive)
}

func TestOffers_CRUDAndSeed(t *testing.T) {
	svc, _, offers := newService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.SeedDefaultOffers(ctx))
	list, err := svc.ListOffers(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "20", list[0].DiscountPercent.String())

	// Seeding twice is a no-op.
	require.NoError(t, svc.SeedDefaultOffers(ctx))
	assert.Len(t, offers.m, 4)

	_, err = svc.CreateOffer(ctx, &entities.OfferRequest{Name: "bad", MinUsdt: decimal.NewFromInt(10), MaxUsdt: decimal.NewFromInt(5)})
	assert.True(t, domainerrors.IsInvalidInput(err))

	inactive := false
	updated, err := svc.UpdateOffer(ctx, list[0].ID, &entities.OfferRequest{
		Name: "Platinum", MinUsdt: decimal.NewFromInt(800), MaxUsdt: decimal.NewFromInt(5000),
		DiscountPercent: decimal.NewFromInt(25), ValidityDays: 10, IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	list, err = svc.ListOffers(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, svc.DeleteOffer(ctx, updated.ID))
	assert.True(t, domainerrors.IsNotFound(svc.DeleteOffer(ctx, updated.ID)))
}

func TestSnapshot(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.SeedDefaultOffers(ctx))

	snap, current, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.GoldPricePerGram.Equal(current.GoldPricePerGram))
	assert.Len(t, snap.Offers, 4)
}
