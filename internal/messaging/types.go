package messaging

import (
	"time"

	"github.com/bardlex/blockmine/internal/mining"
)

// BlockMinedMessage announces a block the miner just solved
type BlockMinedMessage struct {
	BlockHash  string    `json:"block_hash"`
	PrevHash   string    `json:"prev_hash"`
	Generation uint64    `json:"generation"`
	Difficulty uint8     `json:"difficulty"`
	Data       string    `json:"data"`
	Proof      uint64    `json:"proof"`
	Hashes     uint64    `json:"hashes"`
	Workers    int       `json:"workers"`
	Chunks     int       `json:"chunks"`
	DurationMs float64   `json:"duration_ms"`
	Hashrate   float64   `json:"hashrate"`
	Miner      string    `json:"miner"`
	MinedAt    time.Time `json:"mined_at"`
}

// NewBlockMinedMessage builds the wire message for a mined block event.
func NewBlockMinedMessage(event mining.MinedBlock, miner string) *BlockMinedMessage {
	return &BlockMinedMessage{
		BlockHash:  event.Hash.String(),
		PrevHash:   event.PrevHash.String(),
		Generation: event.Generation,
		Difficulty: event.Difficulty,
		Data:       event.Data,
		Proof:      event.Proof,
		Hashes:     event.Hashes,
		Workers:    event.Workers,
		Chunks:     event.Chunks,
		DurationMs: float64(event.Duration.Nanoseconds()) / 1e6,
		Hashrate:   event.HashRate(),
		Miner:      miner,
		MinedAt:    event.MinedAt.UTC(),
	}
}
