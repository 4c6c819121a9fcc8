package handler

import (
	"strconv"

	"github.com/campbook/service-reservation/internal/application"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/middleware"
	"github.com/campbook/service-reservation/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BookingHandler handles HTTP requests for booking operations.
type BookingHandler struct {
	service *application.ReservationService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.ReservationService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all booking routes on the given router group.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	bookings := r.Group("/bookings")
	bookings.GET("/availability", h.CheckAvailability)

	authed := bookings.Group("")
	authed.Use(middleware.AuthMiddleware(jwtManager))
	{
		authed.POST("", middleware.RequireRole(auth.RoleRenter), h.AdmitBooking)
		authed.GET("/me", h.ListMyBookings)
		authed.POST("/:id/cancel", h.CancelBooking)
		authed.POST("/:id/complete", middleware.RequireRole(auth.RoleProvider, auth.RoleAdmin), h.CompleteBooking)
	}
}

// AdmitBooking handles POST /api/v1/bookings
func (h *BookingHandler) AdmitBooking(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.AdmitBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.AdmitBooking(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto)
}

// ListMyBookings handles GET /api/v1/bookings/me?status=
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	page, limit := pageParams(c)
	bookings, total, err := h.service.ListMyBookings(c.Request.Context(), actor, c.Query("status"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, bookings, total, page, limit)
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking ID")
		return
	}

	var req application.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	dto, err := h.service.CancelBooking(c.Request.Context(), actor, bookingID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// CompleteBooking handles POST /api/v1/bookings/:id/complete
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking ID")
		return
	}

	dto, err := h.service.CompleteBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// CheckAvailability handles GET /api/v1/bookings/availability?site_id&check_in&check_out
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	siteID, err := uuid.Parse(c.Query("site_id"))
	if err != nil {
		response.BadRequest(c, "invalid site_id")
		return
	}

	dto, err := h.service.CheckAvailability(c.Request.Context(), siteID, c.Query("check_in"), c.Query("check_out"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// pageParams reads page and limit, defaulting to the first page of 20.
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
