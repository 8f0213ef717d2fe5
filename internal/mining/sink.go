package mining

import (
	"context"
	"time"

	"github.com/bardlex/blockmine/internal/block"
	"github.com/bardlex/blockmine/pkg/log"
)

// MinedBlock describes a block the miner just solved.
type MinedBlock struct {
	Hash       block.Digest
	PrevHash   block.Digest
	Generation uint64
	Difficulty uint8
	Data       string
	Proof      uint64

	// Hashes is the number of candidates tried across every worker.
	Hashes   uint64
	Workers  int
	Chunks   int
	Duration time.Duration
	MinedAt  time.Time
}

// HashRate returns candidates tried per second.
func (e MinedBlock) HashRate() float64 {
	return log.Rate(e.Hashes, e.Duration)
}

// Sink receives mined block events. Errors are logged by the miner and never
// fail the mining call.
type Sink interface {
	BlockMined(ctx context.Context, event MinedBlock) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event MinedBlock) error

// BlockMined calls f.
func (f SinkFunc) BlockMined(ctx context.Context, event MinedBlock) error {
	return f(ctx, event)
}
