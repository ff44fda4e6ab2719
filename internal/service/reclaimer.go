package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/evently/bookings/internal/config"
	"github.com/evently/bookings/internal/model"
)

// Reclaimer sweeps pending bookings whose hold deadline passed, expires
// them and returns their reserved capacity. The sweep is idempotent:
// every candidate is re-verified under the event lock before anything is
// written, so a concurrent confirm or a second reclaimer instance cannot
// double-release.
type Reclaimer struct {
	svc  *BookingService
	cfg  config.ReclaimerConfig
	logg zerolog.Logger
}

// NewReclaimer builds a Reclaimer over the booking service.
func NewReclaimer(svc *BookingService, cfg config.ReclaimerConfig, logg zerolog.Logger) *Reclaimer {
	return &Reclaimer{svc: svc, cfg: cfg, logg: logg}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		r.logg.Info().Msg("reclaimer disabled")
		return
	}
	r.logg.Info().Dur("interval", r.cfg.Interval).Int("batch_size", r.cfg.BatchSize).Msg("reclaimer started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logg.Info().Msg("reclaimer stopped")
			return
		case <-ticker.C:
			expired, failed := r.SweepOnce(ctx)
			if expired > 0 || failed > 0 {
				r.logg.Info().Int("expired", expired).Int("failed", failed).Msg("expiry sweep finished")
			}
		}
	}
}

// SweepOnce processes one batch of expired candidates and reports how many
// were expired and how many failed. A failure on one booking never stops
// the rest of the batch.
func (r *Reclaimer) SweepOnce(ctx context.Context) (expired, failed int) {
	candidates, err := r.svc.bookings.FindExpiredPending(ctx, r.svc.clk.Now(), r.cfg.BatchSize)
	if err != nil {
		r.logg.Error().Err(err).Msg("expiry candidate scan failed")
		return 0, 0
	}

	for i := range candidates {
		b := &candidates[i]
		if err := r.svc.expireBooking(ctx, b); err != nil {
			// A conflict means the booking was confirmed or cancelled
			// between the scan and the lock. That is the protocol working.
			if errors.Is(err, model.ErrConcurrencyConflict) {
				continue
			}
			failed++
			r.logg.Error().Err(err).
				Uint64("booking_id", b.ID).
				Str("reference", b.BookingReference).
				Msg("booking expiry failed")
			continue
		}
		expired++
		r.logg.Info().
			Uint64("booking_id", b.ID).
			Str("reference", b.BookingReference).
			Uint64("event_id", b.EventID).
			Int("quantity", b.Quantity).
			Msg("booking expired, capacity reclaimed")
	}
	return expired, failed
}
