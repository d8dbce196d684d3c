package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kieranlane/mergequeue/internal/storage"
)

// Pool polls for claimable entries on a single ticker and drives up to
// Concurrency of them through a Pipeline at once, generalizing the teacher's
// errgroup-bounded worker loop (see other_examples' actor-migration
// worker pool) from a fixed input channel to a continuously-polled queue.
type Pool struct {
	Pipeline      *Pipeline
	AgentID       string
	Concurrency   int64
	PollInterval  time.Duration
	LeaseDuration time.Duration
	Filter        storage.Filter
	Log           *slog.Logger
}

// NewPool builds a Pool with a fallback logger when log is nil.
func NewPool(pipeline *Pipeline, agentID string, concurrency int64, pollInterval, leaseDuration time.Duration, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		Pipeline:      pipeline,
		AgentID:       agentID,
		Concurrency:   concurrency,
		PollInterval:  pollInterval,
		LeaseDuration: leaseDuration,
		Log:           log,
	}
}

// Run blocks, claiming and running entries until ctx is cancelled; a
// failed claim or pipeline run is logged and does not stop the pool, and
// Run returns ctx's error once in-flight runs finish. Up to Concurrency claims run
// concurrently; each successful claim spawns its own pipeline run under
// the errgroup so one slow merge never blocks other workers from polling.
func (p *Pool) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(p.Concurrency)
	grp, ctx := errgroup.WithContext(ctx)

	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := grp.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			if err := sem.Acquire(ctx, 1); err != nil {
				continue
			}
			entry, err := p.Pipeline.Queue.Claim(ctx, p.AgentID, p.LeaseDuration, p.Filter)
			if err != nil {
				sem.Release(1)
				p.Log.ErrorContext(ctx, "claim failed", "error", err)
				continue
			}
			if entry == nil {
				sem.Release(1)
				continue
			}

			grp.Go(func() error {
				defer sem.Release(1)
				if _, err := p.Pipeline.RunOnce(ctx, entry, p.AgentID); err != nil {
					p.Log.ErrorContext(ctx, "pipeline run failed", "workspace", entry.Workspace, "error", err)
				}
				return nil
			})
		}
	}
}
