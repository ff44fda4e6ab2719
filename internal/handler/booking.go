package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/evently/bookings/internal/model"
	"github.com/evently/bookings/internal/service"
)

// BookingHandler exposes the booking lifecycle over HTTP.
type BookingHandler struct {
	Bookings *service.BookingService
}

// NewBookingHandler constructs a BookingHandler. The service must be non-nil.
func NewBookingHandler(svc *service.BookingService) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: svc}
}

// Create handles POST /v1/bookings. The caller reserves capacity for an
// event and receives a pending booking with a hold deadline.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		EventID  uint64 `json:"event_id"`
		Quantity int    `json:"quantity"`
		Notes    string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
	}

	booking, err := h.Bookings.CreateBooking(c.Request().Context(), userID, body.EventID, body.Quantity, body.Notes)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, booking)
}

// Confirm handles POST /v1/bookings/:id/confirm.
func (h *BookingHandler) Confirm(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}

	booking, err := h.Bookings.ConfirmBooking(c.Request().Context(), id, userID, isAdmin(c))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

// Cancel handles POST /v1/bookings/:id/cancel. An optional reason in the
// body is recorded on the audit trail.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&body) // body is optional

	booking, err := h.Bookings.CancelBooking(c.Request().Context(), id, userID, isAdmin(c), body.Reason)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}

	booking, err := h.Bookings.GetBooking(c.Request().Context(), id, userID, isAdmin(c))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

// ListMine handles GET /v1/my-bookings with optional status, page and
// page_size query parameters.
func (h *BookingHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var status *model.BookingStatus
	if s := c.QueryParam("status"); s != "" {
		st := model.BookingStatus(s)
		switch st {
		case model.BookingPending, model.BookingConfirmed, model.BookingCancelled,
			model.BookingExpired, model.BookingRefunded, model.BookingCompleted:
			status = &st
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status filter"})
		}
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	bookings, total, err := h.Bookings.ListUserBookings(c.Request().Context(), userID, status, page, pageSize)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"bookings":  bookings,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
