// Package mining coordinates a parallel proof search over a block.
//
// A search splits its proof range into chunks, hands each chunk to a
// workqueue worker and returns the first valid proof any worker reports.
// Which proof wins among several valid ones is not defined; every returned
// proof satisfies the block's difficulty.
package mining

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bardlex/blockmine/internal/block"
	"github.com/bardlex/blockmine/pkg/errors"
	"github.com/bardlex/blockmine/pkg/log"
	"github.com/bardlex/blockmine/pkg/workqueue"
)

const (
	// DefaultChunks is the number of tasks a full search is split into.
	DefaultChunks = 2345
	// DefaultRangeFactor scales 2^difficulty into the searched range size.
	DefaultRangeFactor = 8
)

// ErrSearchExhausted means every candidate in the range was tried and none
// satisfied the difficulty.
var ErrSearchExhausted = errors.New(errors.ErrorTypeMining, "mine_range", "no valid proof in range")

// Config controls how a Miner splits and runs its searches.
type Config struct {
	Workers     int
	Chunks      uint64
	RangeFactor uint64

	// CooperativeCancel lets running chunks stop early once any worker
	// reports a proof.
	CooperativeCancel bool
}

// DefaultConfig returns one worker per CPU with the default range shape.
func DefaultConfig() Config {
	return Config{
		Workers:           runtime.NumCPU(),
		Chunks:            DefaultChunks,
		RangeFactor:       DefaultRangeFactor,
		CooperativeCancel: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return errors.Newf(errors.ErrorTypeValidation, "miner_config", "workers must be positive, got %d", c.Workers)
	}
	if c.Chunks == 0 || c.Chunks > MaxChunks {
		return errors.Newf(errors.ErrorTypeValidation, "miner_config",
			"chunks must be between 1 and %d, got %d", MaxChunks, c.Chunks)
	}
	if c.RangeFactor == 0 {
		return errors.New(errors.ErrorTypeValidation, "miner_config", "range factor must be positive")
	}
	return nil
}

// Miner runs proof searches on a fresh work queue per search.
type Miner struct {
	cfg    Config
	logger *log.Logger
	sinks  []Sink
}

// New creates a miner. Sinks are notified, in order, after every Mine call.
func New(cfg Config, logger *log.Logger, sinks ...Sink) (*Miner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Miner{
		cfg:    cfg,
		logger: logger.WithComponent("miner"),
		sinks:  sinks,
	}, nil
}

// Config returns the miner's configuration.
func (m *Miner) Config() Config {
	return m.cfg
}

type searchResult struct {
	proof   uint64
	hashes  uint64
	chunks  int
	elapsed time.Duration
}

// MineRange searches [start, end] split into chunks tasks and returns the
// first valid proof found. The block is not modified.
func (m *Miner) MineRange(ctx context.Context, b *block.Block, start, end, chunks uint64) (uint64, error) {
	res, err := m.search(ctx, b, start, end, chunks)
	if err != nil {
		return 0, err
	}
	return res.proof, nil
}

// MineForProof searches [0, RangeFactor*2^difficulty) with the configured
// chunk count.
func (m *Miner) MineForProof(ctx context.Context, b *block.Block) (uint64, error) {
	res, err := m.searchDefault(ctx, b)
	if err != nil {
		return 0, err
	}
	return res.proof, nil
}

// Mine finds a proof for b, sets it and notifies the sinks.
func (m *Miner) Mine(ctx context.Context, b *block.Block) error {
	res, err := m.searchDefault(ctx, b)
	if err != nil {
		return err
	}

	b.SetProof(res.proof)
	hash := b.MustHash()

	event := MinedBlock{
		Hash:       hash,
		PrevHash:   b.PrevHash(),
		Generation: b.Generation(),
		Difficulty: b.Difficulty(),
		Data:       b.Data(),
		Proof:      res.proof,
		Hashes:     res.hashes,
		Workers:    m.cfg.Workers,
		Chunks:     res.chunks,
		Duration:   res.elapsed,
		MinedAt:    time.Now(),
	}

	m.logger.LogBlockMined(hash.String(), event.Generation, event.Difficulty, event.Proof, event.Duration)
	m.logger.LogThroughput("mine", event.Hashes, event.Duration)
	m.notify(ctx, event)
	return nil
}

// SearchBound returns the last candidate of the default search range for
// difficulty, or an error when RangeFactor*2^difficulty does not fit in a
// uint64.
func (m *Miner) SearchBound(difficulty uint8) (uint64, error) {
	if difficulty >= 64 {
		return 0, boundError(difficulty, m.cfg.RangeFactor)
	}
	hi, lo := bits.Mul64(m.cfg.RangeFactor, uint64(1)<<difficulty)
	if hi != 0 || lo == 0 {
		return 0, boundError(difficulty, m.cfg.RangeFactor)
	}
	return lo - 1, nil
}

func boundError(difficulty uint8, factor uint64) error {
	return errors.Newf(errors.ErrorTypeValidation, "mine_for_proof",
		"search range %d*2^%d overflows uint64", factor, difficulty).
		WithContext("difficulty", difficulty)
}

func (m *Miner) searchDefault(ctx context.Context, b *block.Block) (searchResult, error) {
	end, err := m.SearchBound(b.Difficulty())
	if err != nil {
		return searchResult{}, err
	}
	return m.search(ctx, b, 0, end, m.cfg.Chunks)
}

func (m *Miner) search(ctx context.Context, b *block.Block, start, end, chunks uint64) (searchResult, error) {
	ranges, err := Partition(start, end, chunks)
	if err != nil {
		return searchResult{}, err
	}

	logger := m.logger.WithBlock(b.Generation(), b.Difficulty())
	logger.LogSearchStarted(start, end, uint64(len(ranges)), m.cfg.Workers)

	begin := time.Now()
	snapshot := b.Snapshot()

	var (
		stop   atomic.Bool
		hashes atomic.Uint64
	)

	q, err := workqueue.New[uint64](m.cfg.Workers,
		workqueue.WithLogger(logger),
		workqueue.WithTaskBuffer(len(ranges)),
	)
	if err != nil {
		return searchResult{}, err
	}
	defer func() { _ = q.Shutdown() }()

	for _, r := range ranges {
		task := &rangeTask{block: snapshot, r: r, hashes: &hashes}
		if m.cfg.CooperativeCancel {
			task.stop = &stop
		}
		if err := q.Enqueue(task); err != nil {
			return searchResult{}, errors.Wrap(err, errors.ErrorTypeInternal, "mine_range", "failed to submit chunk")
		}
	}
	q.CloseSubmissions()

	proof, recvErr := q.RecvContext(ctx)
	stop.Store(true)
	shutdownErr := q.Shutdown()

	res := searchResult{
		proof:   proof,
		hashes:  hashes.Load(),
		chunks:  len(ranges),
		elapsed: time.Since(begin),
	}

	switch {
	case recvErr == nil:
		if shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("chunk failed after a proof was found")
		}
		return res, nil

	case errors.Is(recvErr, workqueue.ErrResultsClosed):
		if shutdownErr != nil {
			return searchResult{}, shutdownErr
		}
		return searchResult{}, errors.Wrap(ErrSearchExhausted, errors.ErrorTypeMining, "mine_range",
			fmt.Sprintf("range [%d, %d] exhausted", start, end)).
			WithContext("difficulty", b.Difficulty()).
			WithContext("hashes", res.hashes)

	default:
		return searchResult{}, errors.Wrap(recvErr, errors.ErrorTypeMining, "mine_range", "search canceled")
	}
}

func (m *Miner) notify(ctx context.Context, event MinedBlock) {
	for _, sink := range m.sinks {
		if err := sink.BlockMined(ctx, event); err != nil {
			m.logger.WithError(err).Warn("block sink failed",
				"sink", fmt.Sprintf("%T", sink),
				"generation", event.Generation,
			)
		}
	}
}
