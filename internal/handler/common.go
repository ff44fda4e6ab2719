// Package handler contains the HTTP handlers of the booking service. All
// handlers assume JWT authentication and role validation already ran in
// middleware and read the caller's identity from the echo context.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/evently/bookings/internal/model"
)

// getUserID extracts the user_id from echo.Context and converts it to uint64.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// isAdmin reports whether the authenticated caller carries the admin role.
func isAdmin(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == "admin"
}

// pathID parses a positive uint64 path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

// jsonError maps a domain error onto its stable HTTP representation. Every
// handler funnels errors through here so clients see one error shape.
func jsonError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidQuantity):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_quantity", "message": err.Error()})
	case errors.Is(err, model.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, model.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking_not_found"})
	case errors.Is(err, model.ErrEventNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event_not_found"})
	case errors.Is(err, model.ErrInsufficientCapacity):
		return c.JSON(http.StatusConflict, echo.Map{"error": "insufficient_capacity", "message": err.Error()})
	case errors.Is(err, model.ErrDuplicateBooking):
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate_booking", "message": "an active booking for this event already exists"})
	case errors.Is(err, model.ErrAvailabilityExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "availability_exists"})
	case errors.Is(err, model.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, model.ErrConcurrencyConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "concurrency_conflict", "message": "the booking changed concurrently, please retry"})
	case errors.Is(err, model.ErrBookingExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "booking_expired", "message": "the hold deadline has passed"})
	case errors.Is(err, model.ErrLockTimeout):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "lock_timeout", "message": "the event is busy, please retry"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
	}
}
