package reclaim

import (
	"context"
	"log/slog"
	"time"

	"github.com/kieranlane/mergequeue/internal/storage"
)

// DefaultRetentionInterval is how often Retainer checks for terminal
// entries old enough to hard-delete, when the caller does not override it.
const DefaultRetentionInterval = time.Hour

// Retainer periodically calls Store.RetentionSweep, implementing spec.md
// §9's resolved retention Open Question (30 days, configurable via
// config.Tunables.RetentionWindow) the same ticker-loop way Sweeper runs
// the stale-lease sweep.
type Retainer struct {
	Store    storage.Store
	Interval time.Duration
	Window   time.Duration
	Log      *slog.Logger
}

// NewRetainer builds a Retainer with DefaultRetentionInterval and a
// fallback logger when log is nil.
func NewRetainer(store storage.Store, interval, window time.Duration, log *slog.Logger) *Retainer {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retainer{Store: store, Interval: interval, Window: window, Log: log}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (r *Retainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Retainer) sweepOnce(ctx context.Context) {
	removed, err := r.Store.RetentionSweep(ctx, time.Now().Add(-r.Window))
	if err != nil {
		r.Log.ErrorContext(ctx, "retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		r.Log.InfoContext(ctx, "removed retired entries", "count", removed)
	}
}
