// Package cli wires the engine's KvStore into a one-shot command surface:
// get/set/rm/compact subcommands invoked once per process, operating on the
// KvStore rooted at the current working directory.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/aetherkv/kvs/internal/config"
	"github.com/aetherkv/kvs/internal/engine"
)

// keyNotFoundMessage is printed to stdout (not stderr) for both "get" on an
// absent key and "rm" on an absent key, matching the external contract.
const keyNotFoundMessage = "Key not found"

// NewRootCmd builds the root cobra command with get/set/rm/compact wired to
// a KvStore opened against the working directory. openStore is deferred
// until a subcommand actually runs, so `kvs` with no args can print help
// without touching disk.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvs",
		Short: "A log-structured key-value store",
		// No Run/RunE: invoking kvs with no subcommand falls through to
		// cobra's default help output. main.go is responsible for turning
		// that bare invocation into a non-zero exit, per the CLI contract.
	}

	root.AddCommand(
		newGetCmd(),
		newSetCmd(),
		newRmCmd(),
		newCompactCmd(),
	)

	return root
}

func openStore(cfg *config.Config) (*engine.KvStore, error) {
	dir := cfg.DATA_DIR
	if dir == "" {
		dir = "."
	}
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "cli: getwd")
		}
		dir = filepath.Join(wd, dir)
	}
	return engine.Open(dir, cfg.LOG_PREFIX, cfg.BATCH_SIZE, cfg.SyncInterval(), cfg.COMPACTION_RATIO)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <KEY>",
		Short: "Get the string value of a given key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return errors.Wrap(err, "cli: load config")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			val, ok, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println(keyNotFoundMessage)
				return nil
			}
			fmt.Println(val)
			return nil
		},
	}
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <KEY> <VALUE>",
		Short: "Set the value of a string key to a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return errors.Wrap(err, "cli: load config")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Set(args[0], args[1])
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <KEY>",
		Short: "Remove a given key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return errors.Wrap(err, "cli: load config")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Remove(args[0]); err != nil {
				if errors.Is(err, engine.ErrKeyNotFound) {
					fmt.Println(keyNotFoundMessage)
					store.Close()
					os.Exit(1)
				}
				return err
			}
			return nil
		},
	}
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the log file, discarding dead entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return errors.Wrap(err, "cli: load config")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CompactLog(); err != nil {
				return err
			}
			slog.Info("cli: compaction complete")
			return nil
		},
	}
}
