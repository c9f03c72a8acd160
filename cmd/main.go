// Command kvs is a log-structured key-value store: get/set/rm/compact
// operate once per invocation against the KvStore rooted at the current
// working directory.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aetherkv/kvs/internal/cli"
)

func main() {
	slogHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo, // set to slog.LevelDebug for verbose tracing
	})
	slog.SetDefault(slog.New(slogHandler))

	root := cli.NewRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true

	if len(os.Args) < 2 {
		root.Help()
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
