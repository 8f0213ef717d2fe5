// Package main implements the blockmine command line: it mines blocks with a
// parallel proof-of-work search, builds and verifies chains, benchmarks worker
// counts and watches block notification feeds.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bardlex/blockmine/internal/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Cancel running searches on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "blockmine failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &rootOptions{cfg: cfg}

	root := &cobra.Command{
		Use:           "blockmine",
		Short:         "Parallel proof-of-work block miner",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.apply(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.IntVar(&opts.workers, "workers", cfg.MinerWorkers, "number of mining workers")
	flags.Uint64Var(&opts.chunks, "chunks", uint64(max(cfg.MinerChunks, 0)), "number of chunks the search range is split into")
	flags.Uint64Var(&opts.rangeFactor, "range-factor", uint64(max(cfg.MinerRangeFactor, 0)), "search range multiplier over 2^difficulty")
	flags.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", cfg.LogFormat, "log format (json, text)")

	root.AddCommand(
		newMineCmd(opts),
		newChainCmd(opts),
		newVerifyCmd(opts),
		newBenchCmd(opts),
		newWatchCmd(opts),
	)
	return root
}
