package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bardlex/blockmine/internal/chain"
)

func newChainCmd(opts *rootOptions) *cobra.Command {
	var (
		difficulty uint8
		blocks     int
		prefix     string
	)

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Mine and verify a chain of blocks",
		Long: `
Mines an initial block followed by successors until the chain holds --blocks
blocks, then verifies every link. Block i carries "<prefix> <i>" as data.

$ blockmine chain --blocks 3 --difficulty 12
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if blocks < 1 {
				return fmt.Errorf("--blocks must be positive, got %d", blocks)
			}
			ctx := cmd.Context()

			miner, cleanup, err := opts.newMiner(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			c, err := chain.New(ctx, miner, difficulty)
			if err != nil {
				return err
			}
			for i := 1; i < blocks; i++ {
				if _, err := c.Append(ctx, prefix+" "+strconv.Itoa(i)); err != nil {
					return err
				}
			}

			if err := c.Verify(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, b := range c.All() {
				if err := printBlock(w, b); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(w, "chain verified: %d blocks\n", c.Len())
			return err
		},
	}

	cmd.Flags().Uint8Var(&difficulty, "difficulty", opts.cfg.Difficulty(), "number of trailing zero bits required")
	cmd.Flags().IntVar(&blocks, "blocks", 3, "number of blocks including the initial one")
	cmd.Flags().StringVar(&prefix, "data-prefix", "block", "data prefix for successor blocks")
	return cmd
}
