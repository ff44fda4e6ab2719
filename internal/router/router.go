// Package router wires the HTTP routes of the booking service onto an Echo
// instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/evently/bookings/internal/config"
	"github.com/evently/bookings/internal/handler"
	"github.com/evently/bookings/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently that is only the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterBooking registers the authenticated booking and availability
// routes. Booking creation sits behind the token-bucket limiter so a
// stampede sheds load before it reaches the per-event lock. Reads go
// straight to the handlers: the service-level snapshot cache serves them
// and is deleted explicitly on every committed write, so a client always
// observes its own mutation on the next read.
func RegisterBooking(
	e *echo.Echo,
	b *handler.BookingHandler,
	a *handler.AvailabilityHandler,
	jwtSecret string,
	rdb *redis.Client,
	rlCfg config.RateLimitConfig,
) {
	// Availability reads are public: guests browse capacity before signing
	// in.
	e.GET("/v1/events/:id/availability", a.Get)
	e.GET("/v1/events/:id/availability/check", a.Check)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("user", "admin"))

	limiter := middleware.NewTokenBucket(rlCfg, rdb)
	auth.POST("/bookings", b.Create, limiter)
	auth.POST("/bookings/:id/confirm", b.Confirm, limiter)
	auth.POST("/bookings/:id/cancel", b.Cancel, limiter)
	auth.GET("/bookings/:id", b.Get)
	auth.GET("/my-bookings", b.ListMine)

	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole("admin"))
	admin.POST("/events/:id/availability", a.Create)
	admin.PUT("/events/:id/capacity", a.UpdateCapacity)
	admin.GET("/availability/stats", a.Stats)
}
