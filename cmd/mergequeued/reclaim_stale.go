package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kieranlane/mergequeue/internal/reclaim"
)

var reclaimGrace time.Duration

var reclaimStaleCmd = &cobra.Command{
	Use:   "reclaim-stale",
	Short: "Return entries whose lease expired past the grace window to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		emit(svc.ReclaimStale(cmd.Context(), reclaimGrace))
		return nil
	},
}

func init() {
	reclaimStaleCmd.Flags().DurationVar(&reclaimGrace, "grace", reclaim.DefaultGrace, "grace period past lease expiry before reclamation")
}
