package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/evently/bookings/internal/cache"
	"github.com/evently/bookings/internal/clock"
	"github.com/evently/bookings/internal/config"
	"github.com/evently/bookings/internal/database"
	"github.com/evently/bookings/internal/handler"
	"github.com/evently/bookings/internal/lock"
	"github.com/evently/bookings/internal/queue"
	"github.com/evently/bookings/internal/repository"
	"github.com/evently/bookings/internal/router"
	"github.com/evently/bookings/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	cons := config.LoadConsistencyConfig()
	policy := config.LoadBookingConfig()
	reclaim := config.LoadReclaimerConfig()
	cacheCfg := config.LoadCacheConfig()
	rlCfg := config.LoadRateLimitConfig()

	logg := zerolog.New(os.Stdout).With().Timestamp().Str("service", "bookings").Logger()
	if cfg.Env == "dev" {
		logg = logg.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logg.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx, db); err != nil {
		cancelMigrate()
		logg.Fatal().Err(err).Msg("schema migration failed")
	}
	cancelMigrate()

	rdb := config.NewRedisClient()
	if rdb == nil {
		// The per-event lock is a correctness mechanism, not a cache.
		logg.Fatal().Msg("redis is unavailable, refusing to start without the distributed lock")
	}
	locker := lock.NewRedisLocker(rdb, cons.LockTTL, cons.LockWait, cons.LockRetryDelay)

	readCache := cache.New(rdb, cacheCfg, logg)
	publisher := queue.NewPublisher(queue.BrokerURL())

	availRepo := repository.NewAvailabilityRepo(db)
	bookingRepo := repository.NewBookingRepo(db)
	auditRepo := repository.NewAuditRepo(db)

	clk := clock.NewSystem()
	bookingSvc := service.NewBookingService(
		availRepo, bookingRepo, auditRepo, locker, readCache, publisher,
		clk, cons, policy, logg,
	)
	availSvc := service.NewAvailabilityService(availRepo, locker, readCache, cons, logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reclaimer := service.NewReclaimer(bookingSvc, reclaim, logg)
	go reclaimer.Run(ctx)

	go func() {
		if err := queue.StartBookingConsumer(); err != nil {
			logg.Error().Err(err).Msg("booking consumer stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterBooking(
		e,
		handler.NewBookingHandler(bookingSvc),
		handler.NewAvailabilityHandler(availSvc),
		cfg.JWTSecret,
		rdb,
		rlCfg,
	)

	go func() {
		addr := ":" + cfg.Port
		logg.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil {
			logg.Info().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logg.Error().Err(err).Msg("shutdown failed")
	}
}
