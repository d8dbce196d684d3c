// Package reclaim runs the periodic stale-lease sweep spec.md §4.7
// describes: entries whose lease expired more than a grace window ago are
// returned to pending so another worker can claim them. Grounded on the
// teacher's event-driven daemon loop (cmd/bd/daemon_event_loop.go), whose
// ticker-based fallback path this package generalizes into its own
// standalone loop rather than a daemon subsystem.
package reclaim

import (
	"context"
	"log/slog"
	"time"

	"github.com/kieranlane/mergequeue/internal/storage"
)

// DefaultInterval is how often Sweeper checks for stale leases when the
// caller does not override it.
const DefaultInterval = 60 * time.Second

// DefaultGrace is the additional time past lease expiry a worker is given
// before its entry is considered abandoned, absorbing clock skew between
// the process holding the lease and the one sweeping for it.
const DefaultGrace = 10 * time.Second

// Sweeper periodically calls Store.ReclaimStale and logs what it reclaims.
type Sweeper struct {
	Store    storage.Store
	Interval time.Duration
	Grace    time.Duration
	Log      *slog.Logger
}

// New builds a Sweeper with DefaultInterval/DefaultGrace and a fallback
// logger when log is nil.
func New(store storage.Store, interval, grace time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{Store: store, Interval: interval, Grace: grace, Log: log}
}

// Run blocks, sweeping on every tick until ctx is cancelled. A sweep error
// is logged and the loop continues; a single failed sweep should not stop
// future ones, since the entries it would have reclaimed simply remain
// claimable candidates for the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs a single reclamation pass, logging the ids it reclaimed.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	ids, err := s.Store.ReclaimStale(ctx, time.Now(), s.Grace)
	if err != nil {
		s.Log.ErrorContext(ctx, "reclaim sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		s.Log.InfoContext(ctx, "reclaimed stale leases", "count", len(ids), "entry_ids", ids)
	}
}
