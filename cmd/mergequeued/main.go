// Command mergequeued is the process-interface entrypoint for the merge
// queue core: a thin cobra CLI over internal/process's Service for
// one-shot operator commands, plus a "serve" subcommand that runs the
// worker pool and stale-lease sweeper as a long-lived daemon. Grounded on
// the teacher's cmd/bd entrypoint shape (main.go's cobra root + subcommand
// registration via package-level var + init()).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFromErr(err))
	}
}
