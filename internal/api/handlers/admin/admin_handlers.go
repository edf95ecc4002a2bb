package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/api/handlers/common"
	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
	"github.com/piogold/ico_service/pkg/auth"
)

// AccountService handles admin accounts and the dashboard.
type AccountService interface {
	Setup(ctx context.Context, creds *entities.AdminCredentials) (*entities.Admin, error)
	Login(ctx context.Context, creds *entities.AdminCredentials) (*auth.Token, error)
	Stats(ctx context.Context) (*entities.AdminStats, error)
	ListTransactions(ctx context.Context, chain string, limit, offset int) ([]*entities.ChainTransaction, error)
	EnrollTOTP(ctx context.Context, adminID uuid.UUID) (*entities.TOTPEnrollment, error)
	EnableTOTP(ctx context.Context, adminID uuid.UUID, code string) error
}

// SettingsService is the settings registry and offer table.
type SettingsService interface {
	AdminView(ctx context.Context) (*entities.AdminSettingsView, error)
	Update(ctx context.Context, req *entities.UpdateSettingsRequest) (*entities.AdminSettingsView, error)
	SetIcoActive(ctx context.Context, active bool) (*entities.AdminSettingsView, error)
	ListOffers(ctx context.Context, activeOnly bool) ([]entities.Offer, error)
	CreateOffer(ctx context.Context, req *entities.OfferRequest) (*entities.Offer, error)
	UpdateOffer(ctx context.Context, id uuid.UUID, req *entities.OfferRequest) (*entities.Offer, error)
	DeleteOffer(ctx context.Context, id uuid.UUID) error
}

// OrderService exposes order listing and the stuck-payout requeue.
type OrderService interface {
	List(ctx context.Context, filter entities.OrderFilter) ([]*entities.Order, error)
	Requeue(ctx context.Context, id uuid.UUID) (*entities.Order, error)
}

// ReferralService administers commission rows.
type ReferralService interface {
	List(ctx context.Context, status *entities.ReferralStatus, limit, offset int) ([]*entities.ReferralReward, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, next entities.ReferralStatus) (*entities.ReferralReward, error)
}

// UserDirectory backs the referral-network views.
type UserDirectory interface {
	ListForAdmin(ctx context.Context, limit, offset int) ([]*entities.AdminUser, error)
	Details(ctx context.Context, id uuid.UUID) (*entities.UserDetails, error)
}

// AdminHandlers handles admin-related operations
type AdminHandlers struct {
	accounts  AccountService
	settings  SettingsService
	orders    OrderService
	referrals ReferralService
	users     UserDirectory
	logger    *zap.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(
	accounts AccountService,
	settings SettingsService,
	orders OrderService,
	referrals ReferralService,
	users UserDirectory,
	logger *zap.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		accounts:  accounts,
		settings:  settings,
		orders:    orders,
		referrals: referrals,
		users:     users,
		logger:    logger,
	}
}

// Setup handles POST /api/admin/setup
// @Summary Create the first administrator
// @Description Only succeeds while no administrator exists; seeds the default offer table.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body entities.AdminCredentials true "Credentials"
// @Success 201 {object} entities.Admin
// @Failure 403 {object} entities.ErrorResponse
// @Router /admin/setup [post]
func (h *AdminHandlers) Setup(c *gin.Context) {
	var req entities.AdminCredentials
	if !common.BindJSON(c, &req) {
		return
	}
	admin, err := h.accounts.Setup(c.Request.Context(), &req)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	h.logger.Info("Administrator created",
		zap.String("username", admin.Username),
		zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusCreated, admin)
}

// Login handles POST /api/admin/login
// @Summary Issue an admin access token
// @Tags admin
// @Accept json
// @Produce json
// @Param request body entities.AdminCredentials true "Credentials"
// @Success 200 {object} auth.Token
// @Failure 401 {object} entities.ErrorResponse
// @Router /admin/login [post]
func (h *AdminHandlers) Login(c *gin.Context) {
	var req entities.AdminCredentials
	if !common.BindJSON(c, &req) {
		return
	}
	token, err := h.accounts.Login(c.Request.Context(), &req)
	if err != nil {
		if domainerrors.IsUnauthorized(err) {
			h.logger.Warn("Admin login failed",
				zap.String("username", req.Username),
				zap.String("client_ip", c.ClientIP()))
		}
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// EnrollTOTP handles POST /api/admin/2fa/enroll
// @Summary Start authenticator enrollment
// @Description Returns the secret once. Login is unaffected until the enrollment is confirmed.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entities.TOTPEnrollment
// @Failure 409 {object} entities.ErrorResponse
// @Router /admin/2fa/enroll [post]
func (h *AdminHandlers) EnrollTOTP(c *gin.Context) {
	adminID, ok := currentAdmin(c)
	if !ok {
		return
	}
	enrollment, err := h.accounts.EnrollTOTP(c.Request.Context(), adminID)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, enrollment)
}

// EnableTOTP handles POST /api/admin/2fa/enable
func (h *AdminHandlers) EnableTOTP(c *gin.Context) {
	adminID, ok := currentAdmin(c)
	if !ok {
		return
	}
	var req entities.TOTPCodeRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if err := h.accounts.EnableTOTP(c.Request.Context(), adminID, req.Code); err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	h.logger.Info("Two-factor authentication enabled", zap.String("admin", c.GetString("admin_username")))
	c.Status(http.StatusNoContent)
}

func currentAdmin(c *gin.Context) (uuid.UUID, bool) {
	id, ok := c.Get("admin_id")
	adminID, isUUID := id.(uuid.UUID)
	if !ok || !isUUID {
		c.AbortWithStatusJSON(http.StatusUnauthorized, entities.ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "Admin session required",
		})
		return uuid.Nil, false
	}
	return adminID, true
}

// GetSettings handles GET /api/admin/settings
func (h *AdminHandlers) GetSettings(c *gin.Context) {
	view, err := h.settings.AdminView(c.Request.Context())
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateSettings handles PUT /api/admin/settings
// @Summary Update sale settings
// @Description Partial update. A signing key is encrypted before it is stored and never returned.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body entities.UpdateSettingsRequest true "Fields to change"
// @Success 200 {object} entities.AdminSettingsView
// @Failure 400 {object} entities.ErrorResponse
// @Router /admin/settings [put]
func (h *AdminHandlers) UpdateSettings(c *gin.Context) {
	var req entities.UpdateSettingsRequest
	if !common.BindJSON(c, &req) {
		return
	}
	view, err := h.settings.Update(c.Request.Context(), &req)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	h.logger.Info("Settings updated",
		zap.String("admin", c.GetString("admin_username")),
		zap.Bool("signing_key_changed", req.SigningPrivateKey != nil))
	c.JSON(http.StatusOK, view)
}

// PauseICO handles POST /api/admin/ico/pause
func (h *AdminHandlers) PauseICO(c *gin.Context) {
	h.setIcoActive(c, false)
}

// ResumeICO handles POST /api/admin/ico/resume
func (h *AdminHandlers) ResumeICO(c *gin.Context) {
	h.setIcoActive(c, true)
}

func (h *AdminHandlers) setIcoActive(c *gin.Context, active bool) {
	view, err := h.settings.SetIcoActive(c.Request.Context(), active)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	h.logger.Info("ICO state changed", zap.Bool("ico_active", active), zap.String("admin", c.GetString("admin_username")))
	c.JSON(http.StatusOK, view)
}

// ListOffers handles GET /api/admin/offers
func (h *AdminHandlers) ListOffers(c *gin.Context) {
	offers, err := h.settings.ListOffers(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, offers)
}

// CreateOffer handles POST /api/admin/offers
func (h *AdminHandlers) CreateOffer(c *gin.Context) {
	var req entities.OfferRequest
	if !common.BindJSON(c, &req) {
		return
	}
	offer, err := h.settings.CreateOffer(c.Request.Context(), &req)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

// UpdateOffer handles PUT /api/admin/offers/:id
func (h *AdminHandlers) UpdateOffer(c *gin.Context) {
	id, ok := common.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req entities.OfferRequest
	if !common.BindJSON(c, &req) {
		return
	}
	offer, err := h.settings.UpdateOffer(c.Request.Context(), id, &req)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// DeleteOffer handles DELETE /api/admin/offers/:id
func (h *AdminHandlers) DeleteOffer(c *gin.Context) {
	id, ok := common.UUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.settings.DeleteOffer(c.Request.Context(), id); err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListOrders handles GET /api/admin/orders
// @Summary List orders
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Order status"
// @Param wallet query string false "Wallet address"
// @Success 200 {array} entities.Order
// @Router /admin/orders [get]
func (h *AdminHandlers) ListOrders(c *gin.Context) {
	limit, offset := common.Page(c)
	filter := entities.OrderFilter{
		WalletAddress: strings.TrimSpace(c.Query("wallet")),
		Limit:         limit,
		Offset:        offset,
	}
	if raw := c.Query("status"); raw != "" {
		status, err := entities.ParseOrderStatus(raw)
		if err != nil {
			common.RespondError(c, h.logger, domainerrors.ValidationError("status", err.Error()))
			return
		}
		filter.Status = &status
	}
	orders, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// RequeueOrder handles POST /api/admin/orders/:id/requeue
// @Summary Requeue a stuck payout
// @Description Only PROCESSING_PAYOUT orders that have not settled can be requeued.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Success 202 {object} entities.Order
// @Failure 409 {object} entities.ErrorResponse
// @Router /admin/orders/{id}/requeue [post]
func (h *AdminHandlers) RequeueOrder(c *gin.Context) {
	id, ok := common.UUIDParam(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.Requeue(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	h.logger.Info("Order requeued",
		zap.String("order_id", id.String()),
		zap.String("admin", c.GetString("admin_username")))
	c.JSON(http.StatusAccepted, order)
}

// ListReferrals handles GET /api/admin/referrals
func (h *AdminHandlers) ListReferrals(c *gin.Context) {
	limit, offset := common.Page(c)
	var status *entities.ReferralStatus
	if raw := c.Query("status"); raw != "" {
		s := entities.ReferralStatus(raw)
		if !s.IsValid() {
			common.RespondError(c, h.logger, domainerrors.ValidationError("status", "unknown referral status"))
			return
		}
		status = &s
	}
	rewards, err := h.referrals.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rewards)
}

// UpdateReferral handles PUT /api/admin/referrals/:id
func (h *AdminHandlers) UpdateReferral(c *gin.Context) {
	id, ok := common.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req entities.UpdateReferralStatusRequest
	if !common.BindJSON(c, &req) {
		return
	}
	reward, err := h.referrals.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reward)
}

// ListUsers handles GET /api/admin/users
// @Summary List users
// @Description Newest first, with the number of direct referrals of each user.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} entities.AdminUser
// @Router /admin/users [get]
func (h *AdminHandlers) ListUsers(c *gin.Context) {
	limit, offset := common.Page(c)
	users, err := h.users.ListForAdmin(c.Request.Context(), limit, offset)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// UserDetails handles GET /api/admin/users/:id/details
// @Summary User drill-down
// @Description Orders, referrer, three-level team and referral earnings.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} entities.UserDetails
// @Failure 404 {object} entities.ErrorResponse
// @Router /admin/users/{id}/details [get]
func (h *AdminHandlers) UserDetails(c *gin.Context) {
	id, ok := common.UUIDParam(c, "id")
	if !ok {
		return
	}
	details, err := h.users.Details(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// ListTransactions handles GET /api/admin/transactions
func (h *AdminHandlers) ListTransactions(c *gin.Context) {
	limit, offset := common.Page(c)
	txs, err := h.accounts.ListTransactions(c.Request.Context(), c.Query("chain"), limit, offset)
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

// Stats handles GET /api/admin/stats
// @Summary Dashboard totals
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entities.AdminStats
// @Router /admin/stats [get]
func (h *AdminHandlers) Stats(c *gin.Context) {
	stats, err := h.accounts.Stats(c.Request.Context())
	if err != nil {
		common.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
