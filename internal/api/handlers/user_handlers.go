package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/api/handlers/common"
	"github.com/piogold/ico_service/internal/domain/entities"
)

// UserService is the buyer registration and history surface.
type UserService interface {
	Register(ctx context.Context, req *entities.RegisterUserRequest) (*entities.User, bool, error)
	GetProfile(ctx context.Context, wallet string) (*entities.User, error)
	ListOrders(ctx context.Context, wallet string, limit, offset int) ([]*entities.Order, error)
	Referrals(ctx context.Context, wallet string) (*entities.UserReferralsResponse, error)
}

// UserHandlers serves buyer endpoints keyed by wallet address.
type UserHandlers struct {
	users  UserService
	logger *zap.Logger
}

// NewUserHandlers creates the user handlers.
func NewUserHandlers(users UserService, logger *zap.Logger) *UserHandlers {
	return &UserHandlers{users: users, logger: logger}
}

// Register handles POST /api/users/register
// @Summary Register a wallet
// @Description Returns the existing user with 200 when the wallet is already registered.
// @Tags users
// @Accept json
// @Produce json
// @Param request body entities.RegisterUserRequest true "Wallet and referrer code"
// @Success 201 {object} entities.User
// @Failure 400 {object} entities.ErrorResponse
// @Router /users/register [post]
func (h *UserHandlers) Register(c *gin.Context) {
	var req entities.RegisterUserRequest
	if !common.BindJSON(c, &req) {
		return
	}
	user, created, err := h.users.Register(c.Request.Context(), &req)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, user)
}

// Profile handles GET /api/users/:address
func (h *UserHandlers) Profile(c *gin.Context) {
	user, err := h.users.GetProfile(c.Request.Context(), c.Param("address"))
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Orders handles GET /api/users/:address/orders
// @Summary Order history of a wallet
// @Tags users
// @Produce json
// @Param address path string true "Wallet address"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} entities.Order
// @Router /users/{address}/orders [get]
func (h *UserHandlers) Orders(c *gin.Context) {
	limit, offset := common.Page(c)
	orders, err := h.users.ListOrders(c.Request.Context(), c.Param("address"), limit, offset)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// Referrals handles GET /api/users/:address/referrals
// @Summary Referral dashboard of a wallet
// @Tags users
// @Produce json
// @Param address path string true "Wallet address"
// @Success 200 {object} entities.UserReferralsResponse
// @Router /users/{address}/referrals [get]
func (h *UserHandlers) Referrals(c *gin.Context) {
	out, err := h.users.Referrals(c.Request.Context(), c.Param("address"))
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
