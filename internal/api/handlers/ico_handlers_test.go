package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

type mockOrderService struct{ mock.Mock }

func (m *mockOrderService) Calculate(ctx context.Context, amount decimal.Decimal) (*entities.Quote, error) {
	args := m.Called(ctx, amount)
	q, _ := args.Get(0).(*entities.Quote)
	return q, args.Error(1)
}

func (m *mockOrderService) Create(ctx context.Context, req *entities.CreateOrderRequest) (*entities.Order, bool, error) {
	args := m.Called(ctx, req)
	o, _ := args.Get(0).(*entities.Order)
	return o, args.Bool(1), args.Error(2)
}

func (m *mockOrderService) Get(ctx context.Context, id uuid.UUID) (*entities.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*entities.Order)
	return o, args.Error(1)
}

type stubPublicSettings struct {
	out *entities.PublicSettings
	err error
}

func (s stubPublicSettings) Public(context.Context) (*entities.PublicSettings, error) {
	return s.out, s.err
}

func setupICORouter(orders OrderService, settings PublicSettingsReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewICOHandlers(orders, settings, zap.NewNop())
	r := gin.New()
	r.GET("/api/settings/public", h.PublicSettings)
	r.POST("/api/calculate-purchase", h.CalculatePurchase)
	r.POST("/api/orders/create", h.CreateOrder)
	r.GET("/api/orders/:id/status", h.OrderStatus)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) entities.ErrorResponse {
	t.Helper()
	var resp entities.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCalculatePurchase(t *testing.T) {
	orders := new(mockOrderService)
	r := setupICORouter(orders, stubPublicSettings{})

	quote := &entities.Quote{
		UsdtAmount: decimal.NewFromInt(1000),
		BasePio:    decimal.RequireFromString("16.66666666"),
		TotalPio:   decimal.RequireFromString("17.49999999"),
	}
	orders.On("Calculate", mock.Anything, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.NewFromInt(1000))
	})).Return(quote, nil).Once()

	w := doJSON(r, http.MethodPost, "/api/calculate-purchase", map[string]interface{}{"usdt_amount": "1000"})
	require.Equal(t, http.StatusOK, w.Code)

	var got entities.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.TotalPio.Equal(quote.TotalPio))
	orders.AssertExpectations(t)
}

func TestCalculatePurchase_BelowMinimum(t *testing.T) {
	orders := new(mockOrderService)
	r := setupICORouter(orders, stubPublicSettings{})
	orders.On("Calculate", mock.Anything, mock.Anything).Return(nil, domainerrors.BelowMinimumError("50")).Once()

	w := doJSON(r, http.MethodPost, "/api/calculate-purchase", map[string]interface{}{"usdt_amount": 10})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domainerrors.CodeBelowMinimum, decodeError(t, w).Code)
}

func TestCalculatePurchase_MalformedBody(t *testing.T) {
	r := setupICORouter(new(mockOrderService), stubPublicSettings{})

	req := httptest.NewRequest(http.MethodPost, "/api/calculate-purchase", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
}

func TestCreateOrder_StatusReflectsIdempotency(t *testing.T) {
	orders := new(mockOrderService)
	r := setupICORouter(orders, stubPublicSettings{})

	order := &entities.Order{ID: uuid.New(), Status: entities.OrderStatusCreated}
	orders.On("Create", mock.Anything, mock.Anything).Return(order, true, nil).Once()
	orders.On("Create", mock.Anything, mock.Anything).Return(order, false, nil).Once()

	body := map[string]interface{}{
		"wallet_address": "0x1111111111111111111111111111111111111111",
		"usdt_amount":    "100",
		"tx_hash":        "0x" + string(bytes.Repeat([]byte("a"), 64)),
	}
	first := doJSON(r, http.MethodPost, "/api/orders/create", body)
	second := doJSON(r, http.MethodPost, "/api/orders/create", body)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestCreateOrder_MissingFields(t *testing.T) {
	r := setupICORouter(new(mockOrderService), stubPublicSettings{})

	w := doJSON(r, http.MethodPost, "/api/orders/create", map[string]interface{}{"usdt_amount": "100"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Contains(t, resp.Details, "walletaddress")
	assert.Contains(t, resp.Details, "txhash")
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"paused", domainerrors.IcoPausedError(), http.StatusForbidden, domainerrors.CodeIcoPaused},
		{"no treasury", domainerrors.TreasuryNotConfiguredError(), http.StatusServiceUnavailable, domainerrors.CodeTreasuryNotConfigured},
		{"hash owned elsewhere", domainerrors.ConflictError("order", "tx_hash belongs to another wallet"), http.StatusConflict, "CONFLICT"},
		{"unexpected", errors.New("pq: connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := new(mockOrderService)
			r := setupICORouter(orders, stubPublicSettings{})
			orders.On("Create", mock.Anything, mock.Anything).Return(nil, false, tc.err).Once()

			w := doJSON(r, http.MethodPost, "/api/orders/create", map[string]interface{}{
				"wallet_address": "0x1111111111111111111111111111111111111111",
				"usdt_amount":    "100",
				"tx_hash":        "0xabc",
			})
			require.Equal(t, tc.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tc.code, resp.Code)
			assert.NotContains(t, resp.Message, "pq:")
		})
	}
}

func TestOrderStatus(t *testing.T) {
	orders := new(mockOrderService)
	r := setupICORouter(orders, stubPublicSettings{})

	id := uuid.New()
	hash := "0xfeed"
	orders.On("Get", mock.Anything, id).Return(&entities.Order{
		ID:           id,
		Status:       entities.OrderStatusCompleted,
		PayoutTxHash: &hash,
	}, nil).Once()

	w := doJSON(r, http.MethodGet, "/api/orders/"+id.String()+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "COMPLETED", got["status"])
	assert.Equal(t, true, got["terminal"])
	assert.Equal(t, hash, got["payout_tx_hash"])
}

func TestOrderStatus_BadIDAndMissing(t *testing.T) {
	orders := new(mockOrderService)
	r := setupICORouter(orders, stubPublicSettings{})

	w := doJSON(r, http.MethodGet, "/api/orders/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := uuid.New()
	orders.On("Get", mock.Anything, id).Return(nil, domainerrors.NotFoundError("order")).Once()
	w = doJSON(r, http.MethodGet, "/api/orders/"+id.String()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicSettings(t *testing.T) {
	r := setupICORouter(new(mockOrderService), stubPublicSettings{out: &entities.PublicSettings{
		GoldPricePerGram: decimal.NewFromInt(85),
		IcoActive:        true,
		PaymentChainID:   56,
		PayoutChainID:    42357,
	}})

	w := doJSON(r, http.MethodGet, "/api/settings/public", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "85", got["gold_price_per_gram"])
	assert.Equal(t, float64(42357), got["payout_chain_id"])
	assert.NotContains(t, got, "encrypted_signing_key")
}
