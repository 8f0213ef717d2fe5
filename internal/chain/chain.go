// Package chain keeps an in-memory sequence of mined blocks and extends it
// through a Miner.
package chain

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/bardlex/blockmine/internal/block"
	"github.com/bardlex/blockmine/internal/mining"
	"github.com/bardlex/blockmine/pkg/errors"
)

// Chain is an append-only list of mined blocks rooted at an initial block.
type Chain struct {
	mu     sync.RWMutex
	miner  *mining.Miner
	blocks []*block.Block
}

// New mines an initial block at difficulty and returns a chain holding it.
func New(ctx context.Context, miner *mining.Miner, difficulty uint8) (*Chain, error) {
	genesis := block.Initial(difficulty)
	if err := miner.Mine(ctx, genesis); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMining, "new_chain", "failed to mine initial block")
	}
	return &Chain{
		miner:  miner,
		blocks: []*block.Block{genesis},
	}, nil
}

// Append mines a successor of the tip carrying data and adds it to the chain.
// Appends are serialized; the chain is unchanged when mining fails.
func (c *Chain) Append(ctx context.Context, data string) (*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	next, err := block.Next(tip, data)
	if err != nil {
		return nil, err
	}
	if err := c.miner.Mine(ctx, next); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMining, "append_block", "failed to mine block").
			WithContext("generation", next.Generation())
	}

	c.blocks = append(c.blocks, next)
	return next, nil
}

// Tip returns the most recent block.
func (c *Chain) Tip() *block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Len returns the number of blocks, including the initial one.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Blocks returns a copy of the block list, oldest first.
func (c *Chain) Blocks() []*block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.blocks)
}

// All iterates blocks oldest first over a snapshot of the list.
func (c *Chain) All() iter.Seq2[int, *block.Block] {
	return slices.All(c.Blocks())
}

// Verify checks every block of the chain. See Verify.
func (c *Chain) Verify() error {
	return Verify(c.Blocks())
}

// Verify checks that blocks form a valid chain: each block is mined and
// meets its difficulty, the first is an initial block, and every later block
// links to its predecessor's hash with the next generation number.
func Verify(blocks []*block.Block) error {
	if len(blocks) == 0 {
		return errors.New(errors.ErrorTypeValidation, "verify_chain", "chain is empty")
	}

	for i, b := range blocks {
		if !b.IsValid() {
			return invalid(i, "block is not mined or does not meet its difficulty")
		}

		if i == 0 {
			if b.Generation() != 0 || !b.PrevHash().IsZero() {
				return invalid(i, "first block is not an initial block")
			}
			continue
		}

		prev := blocks[i-1]
		if b.Generation() != prev.Generation()+1 {
			return invalid(i, "generation does not follow predecessor")
		}
		if b.PrevHash() != prev.MustHash() {
			return invalid(i, "previous hash does not match predecessor")
		}
	}
	return nil
}

func invalid(index int, message string) error {
	return errors.New(errors.ErrorTypeValidation, "verify_chain", message).
		WithContext("index", index)
}
