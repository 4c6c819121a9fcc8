package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/campbook/service-reservation/internal/application"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/middleware"
	"github.com/campbook/service-reservation/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the webhook payload read into memory.
const maxWebhookBody = 1 << 20

// signatureHeaders are checked in order for the gateway signature.
var signatureHeaders = []string{"Omise-Signature", "X-Webhook-Signature"}

// PaymentHandler handles HTTP requests for payment operations.
type PaymentHandler struct {
	service *application.SettlementService
	logger  *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(service *application.SettlementService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger}
}

// RegisterRoutes registers all payment routes on the given router group.
func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	payments := r.Group("/payments")
	payments.POST("/webhook", h.Webhook)

	authed := payments.Group("")
	authed.Use(middleware.AuthMiddleware(jwtManager))
	{
		authed.POST("/initiate", middleware.RequireRole(auth.RoleRenter), h.InitiatePayment)
		authed.GET("/me", h.ListMyPayments)
		authed.POST("/:bookingId/refund", middleware.RequireRole(auth.RoleAdmin), h.RefundPayment)
	}
}

// InitiatePayment handles POST /api/v1/payments/initiate
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.InitiatePayment(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto)
}

// ListMyPayments handles GET /api/v1/payments/me
func (h *PaymentHandler) ListMyPayments(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	page, limit := pageParams(c)
	payments, total, err := h.service.ListMyPayments(c.Request.Context(), actor, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, payments, total, page, limit)
}

// RefundPayment handles POST /api/v1/payments/:bookingId/refund
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		response.BadRequest(c, "invalid booking ID")
		return
	}

	var req application.RefundPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	dto, err := h.service.RefundPayment(c.Request.Context(), bookingID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// Webhook handles POST /api/v1/payments/webhook. The body must be read raw
// because the signature covers the exact bytes sent by the gateway.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	var signature string
	for _, name := range signatureHeaders {
		if signature = c.GetHeader(name); signature != "" {
			break
		}
	}

	outcome, err := h.service.HandleWebhook(c.Request.Context(), raw, signature)
	if errors.Is(err, payment.ErrEventNotPaid) {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": "ignored"}})
		return
	}
	if err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err))
		response.Error(c, err)
		return
	}

	response.Success(c, outcome)
}
