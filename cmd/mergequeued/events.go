package main

import (
	"github.com/spf13/cobra"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
)

var (
	eventsEntryID int64
	eventsKind    string
	eventsAfter   int64
	eventsLimit   int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List audit-log events matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		filter := storage.EventFilter{
			EntryID: eventsEntryID,
			Kind:    types.EventKind(eventsKind),
			AfterID: eventsAfter,
		}
		emit(svc.ListEvents(cmd.Context(), filter, eventsLimit))
		return nil
	},
}

func init() {
	eventsCmd.Flags().Int64Var(&eventsEntryID, "entry", 0, "restrict to a single entry id")
	eventsCmd.Flags().StringVar(&eventsKind, "kind", "", "restrict to a single event kind")
	eventsCmd.Flags().Int64Var(&eventsAfter, "after", 0, "exclusive id cursor")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "maximum events returned")
}
