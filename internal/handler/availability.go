package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/evently/bookings/internal/service"
)

// AvailabilityHandler exposes capacity reads and the admin capacity
// mutations over HTTP.
type AvailabilityHandler struct {
	Availability *service.AvailabilityService
}

// NewAvailabilityHandler constructs an AvailabilityHandler. The service
// must be non-nil.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	if svc == nil {
		panic("nil service passed to NewAvailabilityHandler")
	}
	return &AvailabilityHandler{Availability: svc}
}

// Get handles GET /v1/events/:id/availability.
func (h *AvailabilityHandler) Get(c echo.Context) error {
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	a, err := h.Availability.GetAvailability(c.Request().Context(), eventID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// Check handles GET /v1/events/:id/availability/check?quantity=N. The
// answer is advisory: only the booking transaction decides for real.
func (h *AvailabilityHandler) Check(c echo.Context) error {
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	quantity, err := strconv.Atoi(c.QueryParam("quantity"))
	if err != nil {
		quantity = 1
	}

	available, a, err := h.Availability.CheckAvailability(c.Request().Context(), eventID, quantity)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id":           eventID,
		"requested_quantity": quantity,
		"available":          available,
		"available_capacity": a.Available,
	})
}

// Create handles POST /v1/admin/events/:id/availability. Publishes the
// capacity record for a new event.
func (h *AvailabilityHandler) Create(c echo.Context) error {
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		TotalCapacity int   `json:"total_capacity"`
		PriceCents    int64 `json:"price_cents"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	a, err := h.Availability.CreateAvailability(c.Request().Context(), eventID, body.TotalCapacity, body.PriceCents)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// UpdateCapacity handles PUT /v1/admin/events/:id/capacity.
func (h *AvailabilityHandler) UpdateCapacity(c echo.Context) error {
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		TotalCapacity int `json:"total_capacity"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	a, err := h.Availability.UpdateCapacity(c.Request().Context(), eventID, body.TotalCapacity)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// Stats handles GET /v1/admin/availability/stats.
func (h *AvailabilityHandler) Stats(c echo.Context) error {
	s, err := h.Availability.Stats(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}
