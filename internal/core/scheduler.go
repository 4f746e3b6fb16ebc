package core

// scheduler.go runs background maintenance for reservations.
//
// A reservation whose fulfillment died with the process (crash, deploy,
// lost worker) would otherwise stay pending forever. The stall sweeper
// marks such reservations failed so that the next export request re-arms
// and regenerates them.

import (
	"context"
	"log/slog"
	"time"
)

// Default sweeper settings.
const (
	DefaultStallTimeout  = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// StallConfig configures the stall sweeper. Zero values use the defaults.
type StallConfig struct {
	Timeout  time.Duration // pending longer than this counts as stalled
	Interval time.Duration // how often to sweep
}

func (c StallConfig) withDefaults() StallConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultStallTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	return c
}

// StartStallSweeper marks stalled reservations failed. It sweeps once on
// start, then every Interval, and returns when ctx is cancelled.
func (s *Service) StartStallSweeper(ctx context.Context, cfg StallConfig) {
	cfg = cfg.withDefaults()
	slog.Info("stall sweeper started",
		"stall_timeout", cfg.Timeout.String(),
		"interval", cfg.Interval.String(),
	)

	s.sweepOnce(ctx, cfg.Timeout)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stall sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx, cfg.Timeout)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context, timeout time.Duration) {
	start := time.Now()
	n, err := s.SweepStalled(ctx, timeout)
	if err != nil {
		slog.Error("stall sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("marked stalled reservations failed",
			"count", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// SweepStalled fails pending reservations that have not changed for
// longer than timeout and have no fulfillment running in this process. It
// returns the number of reservations marked failed.
func (s *Service) SweepStalled(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := s.now().Add(-timeout)
	pending, err := s.store.ListReservations(ctx, ReservationFilter{
		Status:    ReservationPending,
		IdleSince: &cutoff,
	})
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, r := range pending {
		if s.worker.Running(r.ID) {
			continue
		}
		if _, err := s.Fail(ctx, r.ID, ErrExportStalled, systemOwner); err != nil {
			slog.Warn("mark reservation stalled",
				"reservation_id", r.ID,
				"cutoff", formatTime(cutoff),
				"error", err,
			)
			continue
		}
		failed++
	}
	return failed, nil
}
