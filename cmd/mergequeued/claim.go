package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kieranlane/mergequeue/internal/storage"
)

var (
	claimAgentID   string
	claimLease     time.Duration
	claimWorkspace string
	claimStackRoot string
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the earliest eligible pending entry under a lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		filter := storage.Filter{Workspace: claimWorkspace, StackRoot: claimStackRoot}
		emit(svc.Claim(cmd.Context(), claimAgentID, claimLease, filter))
		return nil
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew <entry-id>",
	Short: "Extend a held lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		emit(svc.Renew(cmd.Context(), id, claimAgentID, claimLease))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{claimCmd, renewCmd} {
		c.Flags().StringVar(&claimAgentID, "agent", "", "agent_id claiming or renewing the lease")
		c.Flags().DurationVar(&claimLease, "lease", 5*time.Minute, "lease duration")
	}
	claimCmd.Flags().StringVar(&claimWorkspace, "workspace", "", "restrict claim to a specific workspace")
	claimCmd.Flags().StringVar(&claimStackRoot, "stack-root", "", "restrict claim to a specific stack")
	_ = claimCmd.MarkFlagRequired("agent")
	_ = renewCmd.MarkFlagRequired("agent")
}
