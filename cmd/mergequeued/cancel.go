package main

import (
	"github.com/spf13/cobra"
)

var cancelActor string

var cancelCmd = &cobra.Command{
	Use:   "cancel <entry-id>",
	Short: "Cancel a non-terminal entry",
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
		emit(svc.Cancel(cmd.Context(), id, cancelActor))
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelActor, "actor", "operator", "actor recorded on the cancellation event")
}
