package main

import (
	"github.com/spf13/cobra"

	"github.com/kieranlane/mergequeue/internal/queue"
)

var submitReq queue.SubmitRequest

var submitCmd = &cobra.Command{
	Use:   "submit <workspace>",
	Short: "Submit a workspace for merging, idempotent on (workspace, bead, parent, fingerprint)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		submitReq.Workspace = args[0]
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		emit(svc.Submit(cmd.Context(), submitReq))
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitReq.BeadID, "bead", "", "optional external task reference")
	submitCmd.Flags().StringVar(&submitReq.ParentWorkspace, "parent", "", "parent workspace, if this submission is part of a stack")
	submitCmd.Flags().StringVar(&submitReq.LogicalChangeFingerprint, "fingerprint", "", "content-addressable fingerprint of the workspace diff")
	submitCmd.Flags().IntVar(&submitReq.Priority, "priority", 0, "claim priority, lower claims first (0 = default)")
	submitCmd.Flags().IntVar(&submitReq.MaxAttempts, "max-attempts", 0, "retry budget before failing terminal (0 = default)")
}
