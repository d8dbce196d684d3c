package main

import (
	"github.com/spf13/cobra"
)

var yieldAgentID string

var yieldCmd = &cobra.Command{
	Use:   "yield <entry-id>",
	Short: "Voluntarily return a held entry to pending without spending an attempt",
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
		emit(svc.Yield(cmd.Context(), id, yieldAgentID))
		return nil
	},
}

func init() {
	yieldCmd.Flags().StringVar(&yieldAgentID, "agent", "", "agent_id currently holding the lease")
	_ = yieldCmd.MarkFlagRequired("agent")
}
