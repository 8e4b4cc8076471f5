// Package reaper periodically unwinds expired holds, reservations, and
// listings so locked funds and parked shares never stay stuck.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/propshare/settlement-core/internal/market"
	"github.com/propshare/settlement-core/internal/model"
)

// Reaper drives the settlement service's expiry sweep on a fixed interval.
// It is a backstop: operators can also settle or cancel explicitly, and the
// sweep only touches rows whose deadline has already passed.
type Reaper struct {
	svc      *market.Service
	interval time.Duration
}

// New creates a reaper sweeping at the given interval.
func New(svc *market.Service, interval time.Duration) *Reaper {
	return &Reaper{svc: svc, interval: interval}
}

// Start launches a background goroutine that ticks at the configured
// interval and runs the expiry sweep. It stops when ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				r.tick(ctx, t)
			}
		}
	}()
}

func (r *Reaper) tick(ctx context.Context, now time.Time) {
	if _, err := r.svc.RunExpirySweep(ctx, model.System, now.UTC()); err != nil {
		slog.Error("expiry sweep failed", "err", err)
	}
}
