package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bardlex/blockmine/internal/block"
	"github.com/bardlex/blockmine/pkg/errors"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var (
		prev       string
		generation uint64
		difficulty uint8
		data       string
		proof      uint64
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a proof against a block",
		Long: `
Rebuilds the block described by the flags, prints its hash string and digest
and fails unless the proof meets the difficulty.

$ blockmine verify --generation 1 --difficulty 16 --data message --proof 2159 \
    --prev 6c71ff02a08a22309b7dbbcee45d291d4ce955caa32031c50d941e3e9dbd0000
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var prevHash block.Digest
			if prev != "" {
				var err error
				if prevHash, err = block.ParseDigest(prev); err != nil {
					return err
				}
			}

			b := block.New(prevHash, generation, difficulty, data)
			valid := b.IsValidForProof(proof)

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\nhash=%s\nvalid=%t\n",
				b.HashStringForProof(proof), b.HashForProof(proof), valid); err != nil {
				return err
			}

			if !valid {
				return errors.Newf(errors.ErrorTypeValidation, "verify",
					"proof %d does not meet difficulty %d", proof, difficulty)
			}
			opts.logger.Debug("proof verified", "generation", generation, "proof", proof)
			return nil
		},
	}

	cmd.Flags().StringVar(&prev, "prev", "", "previous block hash in hex, zero when empty")
	cmd.Flags().Uint64Var(&generation, "generation", 0, "block generation")
	cmd.Flags().Uint8Var(&difficulty, "difficulty", opts.cfg.Difficulty(), "number of trailing zero bits required")
	cmd.Flags().StringVar(&data, "data", "", "block data")
	cmd.Flags().Uint64Var(&proof, "proof", 0, "candidate proof")
	return cmd
}
