package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kieranlane/mergequeue/internal/identity"
	"github.com/kieranlane/mergequeue/internal/process"
	"github.com/kieranlane/mergequeue/internal/reclaim"
	"github.com/kieranlane/mergequeue/internal/vcs"
	"github.com/kieranlane/mergequeue/internal/worker"
)

var (
	serveAgentID    string
	serveConcurrency int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool and stale-lease sweeper as a daemon",
	Long: `serve runs until SIGINT/SIGTERM, claiming entries and driving them
through the rebase/test/merge pipeline while a background sweeper returns
abandoned leases to pending.

No production VCS adapter ships with this core (spec.md treats the VCS
itself as an external collaborator); serve wires vcs.Fake so the process
interface and worker loop are runnable end to end in isolation. A real
deployment supplies its own vcs.Adapter implementation in front of the
same worker.Pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log := slog.Default()
		svc, closeFn, err := openService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		loader, err := loadTunables(log)
		if err != nil {
			return err
		}
		loader.Watch()
		tunables := loader.Current()

		if serveAgentID == "" {
			serveAgentID = identity.NewGenerated().AgentID()
		}

		adapter := vcs.NewFake("HEAD")
		pipeline := worker.NewPipeline(svc.Queue, adapter, tunables.LeaseDuration, log)
		pipeline.RenewAtFraction = tunables.RenewAtFraction
		pool := worker.NewPool(pipeline, serveAgentID, serveConcurrency, time.Second, tunables.LeaseDuration, log)
		sweeper := reclaim.New(svc.Store, tunables.ReclaimInterval, tunables.ReclaimGrace, log)
		retainer := reclaim.NewRetainer(svc.Store, reclaim.DefaultRetentionInterval, tunables.RetentionWindow, log)

		log.InfoContext(ctx, "serving", "agent_id", serveAgentID, "concurrency", serveConcurrency)

		errCh := make(chan error, 3)
		go func() { errCh <- pool.Run(ctx) }()
		go func() { errCh <- sweeper.Run(ctx) }()
		go func() { errCh <- retainer.Run(ctx) }()

		err = <-errCh
		if ctx.Err() != nil {
			emit(process.Ok(struct{}{}))
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAgentID, "agent", "", "fixed agent_id (defaults to a generated hostname-uuid)")
	serveCmd.Flags().Int64Var(&serveConcurrency, "concurrency", 4, "number of entries driven through the pipeline concurrently")
}
