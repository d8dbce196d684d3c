package main

import (
	"github.com/spf13/cobra"
)

var statusWorkspace string

var statusCmd = &cobra.Command{
	Use:   "status [entry-id]",
	Short: "Show a single entry by id or --workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if len(args) == 1 {
			parsed, err := parseID(args[0])
			if err != nil {
				return err
			}
			id = parsed
		}
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		emit(svc.Status(cmd.Context(), id, statusWorkspace))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		emit(svc.Stats(cmd.Context()))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkspace, "workspace", "", "look up by workspace name instead of entry id")
}
