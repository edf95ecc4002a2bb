package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/api/handlers/common"
	"github.com/piogold/ico_service/internal/domain/entities"
)

// OrderService is the purchase surface of the order orchestrator.
type OrderService interface {
	Calculate(ctx context.Context, usdtAmount decimal.Decimal) (*entities.Quote, error)
	Create(ctx context.Context, req *entities.CreateOrderRequest) (*entities.Order, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*entities.Order, error)
}

// PublicSettingsReader serves the purchase UI configuration.
type PublicSettingsReader interface {
	Public(ctx context.Context) (*entities.PublicSettings, error)
}

// ICOHandlers serves the purchase flow.
type ICOHandlers struct {
	orders   OrderService
	settings PublicSettingsReader
	logger   *zap.Logger
}

// NewICOHandlers creates the purchase handlers.
func NewICOHandlers(orders OrderService, settings PublicSettingsReader, logger *zap.Logger) *ICOHandlers {
	return &ICOHandlers{orders: orders, settings: settings, logger: logger}
}

// OrderStatusResponse is the polling view of an order.
type OrderStatusResponse struct {
	*entities.Order
	Terminal bool `json:"terminal"`
}

// PublicSettings handles GET /api/settings/public
// @Summary Public sale settings
// @Description Gold price, ICO state, treasury address and active bonus tiers
// @Tags ico
// @Produce json
// @Success 200 {object} entities.PublicSettings
// @Router /settings/public [get]
func (h *ICOHandlers) PublicSettings(c *gin.Context) {
	out, err := h.settings.Public(c.Request.Context())
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CalculatePurchase handles POST /api/calculate-purchase
// @Summary Quote a purchase
// @Tags ico
// @Accept json
// @Produce json
// @Param request body entities.CalculatePurchaseRequest true "USDT amount"
// @Success 200 {object} entities.Quote
// @Failure 400 {object} entities.ErrorResponse
// @Router /calculate-purchase [post]
func (h *ICOHandlers) CalculatePurchase(c *gin.Context) {
	var req entities.CalculatePurchaseRequest
	if !common.BindJSON(c, &req) {
		return
	}
	quote, err := h.orders.Calculate(c.Request.Context(), req.UsdtAmount)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// CreateOrder handles POST /api/orders/create
// @Summary Create an order for a payment transaction
// @Description Idempotent on tx_hash: a retry returns the existing order with 200.
// @Tags ico
// @Accept json
// @Produce json
// @Param request body entities.CreateOrderRequest true "Order"
// @Success 201 {object} entities.Order
// @Success 200 {object} entities.Order
// @Failure 400 {object} entities.ErrorResponse
// @Failure 403 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Router /orders/create [post]
func (h *ICOHandlers) CreateOrder(c *gin.Context) {
	var req entities.CreateOrderRequest
	if !common.BindJSON(c, &req) {
		return
	}
	order, created, err := h.orders.Create(c.Request.Context(), &req)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, order)
}

// OrderStatus handles GET /api/orders/:id/status
// @Summary Poll an order
// @Tags ico
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} OrderStatusResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /orders/{id}/status [get]
func (h *ICOHandlers) OrderStatus(c *gin.Context) {
	id, ok := common.UUIDParam(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, OrderStatusResponse{Order: order, Terminal: order.Status.IsTerminal()})
}
