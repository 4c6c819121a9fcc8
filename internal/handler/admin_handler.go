package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campbook/service-reservation/internal/application"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/middleware"
	"github.com/campbook/service-reservation/pkg/response"
)

// AdminHandler handles back-office requests for bookings, the ledger and payouts.
type AdminHandler struct {
	reservations *application.ReservationService
	payouts      *application.PayoutService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(reservations *application.ReservationService, payouts *application.PayoutService) *AdminHandler {
	return &AdminHandler{
		reservations: reservations,
		payouts:      payouts,
	}
}

// RegisterRoutes registers admin routes. Providers may list bookings for
// their own sites; everything else is admin only.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/admin")
	admin.Use(authMW)
	{
		admin.GET("/bookings", middleware.RequireRole(auth.RoleAdmin, auth.RoleProvider), h.ListBookings)
		admin.GET("/ledger", adminRole, h.ListLedger)
		admin.GET("/stats/ledger", adminRole, h.LedgerStats)
		admin.POST("/payouts/settle", adminRole, h.SettlePayout)
		admin.POST("/payouts/run", adminRole, h.RunPayouts)
	}
}

// ListBookings handles GET /api/v1/admin/bookings.
func (h *AdminHandler) ListBookings(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	page, limit := pageParams(c)
	bookings, total, err := h.reservations.ListBookings(c.Request.Context(), actor, c.Query("status"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, bookings, total, page, limit)
}

// ListLedger handles GET /api/v1/admin/ledger.
func (h *AdminHandler) ListLedger(c *gin.Context) {
	page, limit := pageParams(c)
	q := application.LedgerQuery{
		BookingID: c.Query("booking_id"),
		Kind:      c.Query("kind"),
		Payee:     c.Query("payee"),
	}

	entries, total, err := h.payouts.ListLedger(c.Request.Context(), q, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, entries, total, page, limit)
}

// LedgerStats handles GET /api/v1/admin/stats/ledger.
func (h *AdminHandler) LedgerStats(c *gin.Context) {
	stats, err := h.payouts.LedgerStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

// SettlePayout handles POST /api/v1/admin/payouts/settle.
func (h *AdminHandler) SettlePayout(c *gin.Context) {
	var req application.SettlePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	entry, err := h.payouts.SettlePayout(c.Request.Context(), req.BookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, entry)
}

// RunPayouts handles POST /api/v1/admin/payouts/run.
func (h *AdminHandler) RunPayouts(c *gin.Context) {
	run, err := h.payouts.RunPayouts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, run)
}
