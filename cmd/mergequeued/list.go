package main

import (
	"github.com/spf13/cobra"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
)

var (
	listStatus    string
	listWorkspace string
	listStackRoot string
	listLimit     int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		filter := storage.Filter{Workspace: listWorkspace, StackRoot: listStackRoot}
		if listStatus != "" {
			status := types.Status(listStatus)
			filter.Status = &status
		}
		emit(svc.List(cmd.Context(), filter, storage.OrderClaim, listLimit))
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "restrict to a lifecycle status")
	listCmd.Flags().StringVar(&listWorkspace, "workspace", "", "restrict to a workspace")
	listCmd.Flags().StringVar(&listStackRoot, "stack-root", "", "restrict to a stack")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum entries returned")
}
