package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kieranlane/mergequeue/internal/config"
	"github.com/kieranlane/mergequeue/internal/process"
	"github.com/kieranlane/mergequeue/internal/queue"
	"github.com/kieranlane/mergequeue/internal/storage/sqlite"
	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

var (
	dbPath     string
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "mergequeued",
	Short: "Merge queue coordination core: submit, claim, and land stacked workspaces onto trunk",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "mergequeue.db", "path to the sqlite database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults if absent)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", true, "emit machine-readable JSON envelopes")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(yieldCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(reclaimStaleCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

// openService opens the sqlite store at --db and returns a process.Service
// plus a closer the caller must defer. The queue's MaxStackDepth is seeded
// from --config (or its defaults) so a deployment can tune the stack-depth
// bound without a recompile.
func openService(ctx context.Context) (*process.Service, func() error, error) {
	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return nil, nil, err
	}
	log := slog.Default()
	loader, err := loadTunables(log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	q := queue.New(store, log)
	q.MaxStackDepth = loader.Current().MaxStackDepth
	return process.New(q, store), store.Close, nil
}

// loadTunables reads --config (or defaults when unset/missing).
func loadTunables(log *slog.Logger) (*config.Loader, error) {
	return config.Load(configPath, log)
}

// emit prints env as a JSON envelope and exits the process with the exit
// code spec.md §6 assigns to its outcome, matching an operator scripting
// against this CLI rather than reading prose output.
func emit[T any](env process.Envelope[T]) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(process.ExitSystem)
	}
	if !env.Success {
		os.Exit(process.ExitCodeFromKind(env.Error.Code))
	}
}

// exitCodeFromErr maps a cobra-level error (flag parsing, CLI-layer
// failures raised before a Service call produced its own envelope) to the
// exit-code contract, defaulting unclassified errors to ExitSystem.
func exitCodeFromErr(err error) int {
	return process.ExitCodeFor(mqerrors.KindOf(err))
}
