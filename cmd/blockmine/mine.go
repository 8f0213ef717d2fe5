package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bardlex/blockmine/internal/block"
)

func newMineCmd(opts *rootOptions) *cobra.Command {
	var (
		difficulty uint8
		data       string
		start      uint64
		end        uint64
	)

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine a single block",
		Long: `
Mines an initial block at the given difficulty and prints its proof and hash.
With --data, the initial block is mined first and then a successor carrying
the data. With --end, only [--start, --end] is searched for the last block.
With several workers any valid proof may be reported, not only the smallest.

$ blockmine mine --difficulty 16 --workers 1 --chunks 1
<<COMMENT
generation=0 difficulty=16 proof=56231
hash=6c71ff02a08a22309b7dbbcee45d291d4ce955caa32031c50d941e3e9dbd0000
COMMENT
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			miner, cleanup, err := opts.newMiner(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			target := block.Initial(difficulty)
			if cmd.Flags().Changed("data") {
				if err := miner.Mine(ctx, target); err != nil {
					return err
				}
				if target, err = block.Next(target, data); err != nil {
					return err
				}
			}

			if cmd.Flags().Changed("end") {
				proof, err := miner.MineRange(ctx, target, start, end, miner.Config().Chunks)
				if err != nil {
					return err
				}
				target.SetProof(proof)
			} else if err := miner.Mine(ctx, target); err != nil {
				return err
			}

			return printBlock(cmd.OutOrStdout(), target)
		},
	}

	cmd.Flags().Uint8Var(&difficulty, "difficulty", opts.cfg.Difficulty(), "number of trailing zero bits required")
	cmd.Flags().StringVar(&data, "data", "", "mine a successor block carrying this data")
	cmd.Flags().Uint64Var(&start, "start", 0, "first candidate proof when --end is set")
	cmd.Flags().Uint64Var(&end, "end", 0, "last candidate proof, inclusive")
	return cmd
}

func printBlock(w io.Writer, b *block.Block) error {
	proof, _ := b.Proof()
	hash, err := b.Hash()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "generation=%d difficulty=%d proof=%d\nhash=%s\n",
		b.Generation(), b.Difficulty(), proof, hash)
	return err
}
